package session

import (
	"errors"
	"time"

	provider "flowgate/internal/pkg/provider/port"
)

// Domain-level errors for session behaviors
var (
	// ErrNoActiveSession means no live provider adapter is registered for
	// the tenant. Caller error, surfaced immediately, never retried.
	ErrNoActiveSession = errors.New("session: no active session for tenant")
)

// ConnectionState is the lifecycle state of a tenant's provider session.
type ConnectionState string

const (
	StateDisconnected      ConnectionState = "disconnected"
	StateConnecting        ConnectionState = "connecting"
	StateAwaitingHandshake ConnectionState = "awaiting_handshake"
	StateConnected         ConnectionState = "connected"
)

// TenantSession is the durable record of one chat-provider session per
// tenant. At most one live record exists per tenant at a time; the session
// orchestrator is its sole writer.
type TenantSession struct {
	TenantID          string
	ProviderKind      provider.Kind
	ConnectionState   ConnectionState
	CredentialBlob    []byte
	HandshakeArtifact string
	BoundFlowID       string
	BoundAddress      string
	LastSeenAt        time.Time
}

// Status is the tenant-facing view of a session, served by the status
// endpoint and returned when a session is started.
type Status struct {
	ConnectionState   ConnectionState `json:"connectionState"`
	HandshakeArtifact string          `json:"handshakeArtifact,omitempty"`
	BoundAddress      string          `json:"boundAddress,omitempty"`
}
