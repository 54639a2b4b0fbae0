package port

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies one backing transport implementation.
type Kind string

const (
	// KindSocket is the self-hosted socket protocol (websocket transport).
	KindSocket Kind = "socket"
	// KindCloud is the hosted cloud messaging API.
	KindCloud Kind = "cloud"
	// KindGateway is an SMS-gateway-style HTTP API.
	KindGateway Kind = "gateway"
)

// Errors surfaced by providers.
var (
	// ErrProviderUnavailable marks transport-level failures. Callers must
	// treat it as retryable.
	ErrProviderUnavailable = errors.New("provider: transport unavailable")
	// ErrNotConnected is returned when send operations are invoked while
	// the provider session is not connected. Caller error, never retried.
	ErrNotConnected = errors.New("provider: not connected")
	// ErrUnknownKind is returned by the factory for unrecognized kinds.
	ErrUnknownKind = errors.New("provider: unknown provider kind")
)

// Message is the normalized inbound message shape shared by all providers.
type Message struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	IsGroup      bool      `json:"isGroup"`
	GroupAddress string    `json:"groupAddress,omitempty"`
}

// DisconnectReason qualifies a connection loss.
type DisconnectReason string

const (
	// ReasonTransport is a recoverable transport drop; the orchestrator
	// schedules a reconnect.
	ReasonTransport DisconnectReason = "transport"
	// ReasonLoggedOut means the remote side invalidated the session
	// (explicit logout/unauthorized). Never retried.
	ReasonLoggedOut DisconnectReason = "logged_out"
)

// Event is the tagged union delivered on a provider's event channel. The
// orchestrator owns one channel per adapter instance and consumes it from a
// dedicated goroutine, so adapters never re-enter caller code.
type Event interface{ isEvent() }

// MessageEvent carries a normalized inbound message.
type MessageEvent struct{ Message Message }

// ConnectionEvent reports a connection state change. Reason is only
// meaningful when Connected is false. BoundAddress is the tenant-facing
// address resolved by the transport, set on successful connects.
type ConnectionEvent struct {
	Connected    bool
	Reason       DisconnectReason
	BoundAddress string
}

// HandshakeEvent carries a provider-issued pairing artifact the end user
// must present to authorize the session.
type HandshakeEvent struct{ Code string }

// CredentialEvent offers refreshed credential material to the caller. The
// provider never persists credentials itself.
type CredentialEvent struct{ Blob []byte }

func (MessageEvent) isEvent()    {}
func (ConnectionEvent) isEvent() {}
func (HandshakeEvent) isEvent()  {}
func (CredentialEvent) isEvent() {}

// Provider is the uniform capability surface over one chat transport. One
// instance owns one connection attempt's transport handle and no durable
// state beyond it.
type Provider interface {
	Kind() Kind

	// Connect establishes or resumes the transport session using the
	// credential material passed at construction, if any. Transport-level
	// failures are reported as ErrProviderUnavailable.
	Connect(ctx context.Context) error

	// Disconnect tears down the transport session. Idempotent.
	Disconnect() error

	// Send delivers text to a direct address. Fails with ErrNotConnected
	// unless the session is connected.
	Send(ctx context.Context, address, text string) error

	// SendGroup delivers text to a group address. Same contract as Send.
	SendGroup(ctx context.Context, groupAddress, text string) error

	// Events returns the adapter's event channel. The channel is closed
	// after Disconnect once all pending events are delivered.
	Events() <-chan Event
}

// Config carries everything an adapter needs to construct a transport
// session for one tenant.
type Config struct {
	TenantID string
	// Endpoint is the transport endpoint: a websocket URL for the socket
	// kind, an HTTP base URL for cloud/gateway kinds.
	Endpoint string
	// Credentials is opaque, provider-specific serialized secret material
	// from a previous session; nil for a fresh pairing.
	Credentials []byte
}

// Factory constructs a provider for the given kind. The orchestrator depends
// on this signature so tests can substitute fakes.
type Factory func(kind Kind, cfg Config) (Provider, error)

// NewFactory builds a Factory from a kind→constructor table.
func NewFactory(table map[Kind]func(Config) (Provider, error)) Factory {
	return func(kind Kind, cfg Config) (Provider, error) {
		ctor, ok := table[kind]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		return ctor(cfg)
	}
}
