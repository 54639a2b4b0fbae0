package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"flowgate/internal/pkg/provider/port"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	sendBuffer  = 64
	eventBuffer = 32
)

// socketFrame is the wire format spoken with the self-hosted provider node.
// One frame type per line of the session protocol.
type socketFrame struct {
	Type string `json:"type"`

	// auth / credentials
	Token []byte `json:"token,omitempty"`

	// pairing
	Code string `json:"code,omitempty"`

	// status
	Connected bool   `json:"connected,omitempty"`
	Address   string `json:"address,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// message / send
	ID           string    `json:"id,omitempty"`
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	Text         string    `json:"text,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
	IsGroup      bool      `json:"isGroup,omitempty"`
	GroupAddress string    `json:"groupAddress,omitempty"`
}

const (
	frameAuth        = "auth"
	framePairing     = "pairing"
	frameStatus      = "status"
	frameCredentials = "credentials"
	frameMessage     = "message"
	frameSend        = "send"
)

// SocketProvider speaks the self-hosted socket protocol over a websocket.
// One instance owns one connection attempt: Connect at most once, then
// Disconnect; reconnects construct a fresh instance through the factory.
type SocketProvider struct {
	cfg port.Config
	log *slog.Logger

	send      chan socketFrame
	events    chan port.Event
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool

	mu    sync.Mutex
	ws    *websocket.Conn
	loops bool
}

func NewSocketProvider(cfg port.Config, log *slog.Logger) *SocketProvider {
	return &SocketProvider{
		cfg:    cfg,
		log:    log,
		send:   make(chan socketFrame, sendBuffer),
		events: make(chan port.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

var _ port.Provider = (*SocketProvider)(nil)

func (p *SocketProvider) Kind() port.Kind { return port.KindSocket }

func (p *SocketProvider) Events() <-chan port.Event { return p.events }

// Connect dials the provider node, authenticates with stored credential
// material when present, and starts the read/write pumps. Connection
// progress (pairing code, connected, drops) arrives on the event channel.
func (p *SocketProvider) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: writeWait}
	ws, _, err := dialer.DialContext(ctx, p.cfg.Endpoint, nil)
	if err != nil {
		_ = p.Disconnect()
		return fmt.Errorf("%w: dial %s: %v", port.ErrProviderUnavailable, p.cfg.Endpoint, err)
	}

	p.mu.Lock()
	select {
	case <-p.done:
		// Disconnect won the race while the dial was in flight and has
		// already closed the event channel; the pumps must never start.
		p.mu.Unlock()
		_ = ws.Close()
		return port.ErrProviderUnavailable
	default:
	}
	p.ws = ws
	p.loops = true
	p.mu.Unlock()

	go p.writeLoop()
	go p.readLoop()

	// Resume with stored credentials; an empty token asks the node for a
	// fresh pairing code.
	select {
	case p.send <- socketFrame{Type: frameAuth, Token: p.cfg.Credentials}:
	case <-p.done:
		return port.ErrProviderUnavailable
	}
	return nil
}

// Disconnect tears the transport down. Safe to call more than once.
func (p *SocketProvider) Disconnect() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.connected.Store(false)

		p.mu.Lock()
		ws, loops := p.ws, p.loops
		p.mu.Unlock()

		if ws != nil {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop"), time.Now().Add(writeWait))
			_ = ws.Close()
		}
		if !loops {
			// The pumps never started and never will, so readLoop cannot
			// close the event channel.
			close(p.events)
		}
	})
	return nil
}

func (p *SocketProvider) Send(ctx context.Context, address, text string) error {
	return p.enqueue(socketFrame{Type: frameSend, ID: uuid.NewString(), To: address, Text: text})
}

func (p *SocketProvider) SendGroup(ctx context.Context, groupAddress, text string) error {
	return p.enqueue(socketFrame{Type: frameSend, ID: uuid.NewString(), To: groupAddress, Text: text, IsGroup: true})
}

func (p *SocketProvider) enqueue(f socketFrame) error {
	if !p.connected.Load() {
		return port.ErrNotConnected
	}
	select {
	case <-p.done:
		return port.ErrNotConnected
	case p.send <- f:
		return nil
	default:
		// Bounded backpressure: a full buffer means the node stopped
		// draining, which is a transport problem.
		return fmt.Errorf("%w: send buffer full", port.ErrProviderUnavailable)
	}
}

// readLoop is the sole producer on the event channel and, once the pumps
// have started, its sole closer.
func (p *SocketProvider) readLoop() {
	defer close(p.events)

	for {
		var f socketFrame
		if err := p.ws.ReadJSON(&f); err != nil {
			select {
			case <-p.done:
				// Deliberate disconnect; no drop event.
			default:
				p.connected.Store(false)
				p.emit(port.ConnectionEvent{Connected: false, Reason: port.ReasonTransport})
			}
			return
		}

		switch f.Type {
		case framePairing:
			p.emit(port.HandshakeEvent{Code: f.Code})
		case frameCredentials:
			p.emit(port.CredentialEvent{Blob: f.Token})
		case frameStatus:
			p.connected.Store(f.Connected)
			evt := port.ConnectionEvent{Connected: f.Connected, BoundAddress: f.Address}
			if !f.Connected {
				evt.Reason = port.ReasonTransport
				if f.Reason == string(port.ReasonLoggedOut) {
					evt.Reason = port.ReasonLoggedOut
				}
			}
			p.emit(evt)
			if !f.Connected && evt.Reason == port.ReasonLoggedOut {
				return
			}
		case frameMessage:
			p.emit(port.MessageEvent{Message: port.Message{
				ID:           f.ID,
				From:         f.From,
				To:           f.To,
				Text:         f.Text,
				Timestamp:    f.Timestamp,
				IsGroup:      f.IsGroup,
				GroupAddress: f.GroupAddress,
			}})
		default:
			p.log.Debug("socket provider: ignoring frame", slog.String("type", f.Type))
		}
	}
}

func (p *SocketProvider) emit(evt port.Event) {
	select {
	case p.events <- evt:
	case <-p.done:
	}
}

func (p *SocketProvider) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case f := <-p.send:
			payload, err := json.Marshal(f)
			if err != nil {
				p.log.Warn("socket provider: encode frame", slog.Any("error", err))
				continue
			}
			if err := p.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := p.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := p.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
