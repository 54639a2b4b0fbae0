package port

import (
	"context"
	"time"
)

// Event kinds published by the session orchestrator. The sink is strictly
// fire-and-forget: a publish failure must never block or fail the caller.
const (
	EventSessionConnecting        = "session.connecting"
	EventSessionAwaitingHandshake = "session.awaiting_handshake"
	EventSessionConnected         = "session.connected"
	EventSessionDisconnected      = "session.disconnected"
	EventSessionError             = "session.error"
)

// Event is the envelope written to the sink.
type Event struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	TenantID   string         `json:"tenantId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

// Sink publishes session lifecycle events to an external consumer.
type Sink interface {
	Publish(ctx context.Context, evt Event)
	Close() error
}
