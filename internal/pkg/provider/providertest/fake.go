// Package providertest provides a scriptable fake provider for exercising
// the session orchestrator and dispatch pipeline without a real transport.
package providertest

import (
	"context"
	"sync"

	"flowgate/internal/pkg/provider/port"
)

// SentMessage records one outbound send through the fake.
type SentMessage struct {
	Address string
	Text    string
	Group   bool
}

// Fake implements port.Provider with test-controlled behavior. Events are
// pushed by the test through the Emit helpers.
type Fake struct {
	ProviderKind port.Kind
	ConnectErr   error

	mu        sync.Mutex
	connected bool
	sent      []SentMessage
	events    chan port.Event
	closed    bool
	connects  int
}

func NewFake() *Fake {
	return &Fake{
		ProviderKind: port.KindSocket,
		events:       make(chan port.Event, 64),
	}
}

var _ port.Provider = (*Fake)(nil)

func (f *Fake) Kind() port.Kind { return f.ProviderKind }

func (f *Fake) Events() <-chan port.Event { return f.events }

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	return f.ConnectErr
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *Fake) Send(ctx context.Context, address, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return port.ErrNotConnected
	}
	f.sent = append(f.sent, SentMessage{Address: address, Text: text})
	return nil
}

func (f *Fake) SendGroup(ctx context.Context, groupAddress, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return port.ErrNotConnected
	}
	f.sent = append(f.sent, SentMessage{Address: groupAddress, Text: text, Group: true})
	return nil
}

// EmitConnected pushes a successful connection event and marks the fake
// connected so sends succeed.
func (f *Fake) EmitConnected(address string) {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.events <- port.ConnectionEvent{Connected: true, BoundAddress: address}
}

// EmitDropped pushes a connection-loss event with the given reason.
func (f *Fake) EmitDropped(reason port.DisconnectReason) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.events <- port.ConnectionEvent{Connected: false, Reason: reason}
}

// EmitHandshake pushes a pairing artifact event.
func (f *Fake) EmitHandshake(code string) {
	f.events <- port.HandshakeEvent{Code: code}
}

// EmitCredentials pushes refreshed credential material.
func (f *Fake) EmitCredentials(blob []byte) {
	f.events <- port.CredentialEvent{Blob: blob}
}

// EmitMessage pushes a normalized inbound message.
func (f *Fake) EmitMessage(msg port.Message) {
	f.events <- port.MessageEvent{Message: msg}
}

// Sent returns a copy of everything sent through the fake.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// Connects reports how many times Connect was called.
func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}
