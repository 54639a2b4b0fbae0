// Package orchestrator owns the tenant → live provider adapter mapping and
// drives each session through its lifecycle: connect, handshake, reconnect
// with bounded retries, explicit stop. Exactly one Orchestrator runs per
// process; it is constructed explicitly in main and injected where needed.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"flowgate/internal/config"
	cacheport "flowgate/internal/infrastructure/cache/port"
	notifyport "flowgate/internal/infrastructure/notify/port"
	provider "flowgate/internal/pkg/provider/port"
	session "flowgate/internal/pkg/session/application/domain"
	repository "flowgate/internal/pkg/session/persistence/repository/port"
)

const (
	handshakeKeyPrefix = "session:handshake:"
	livenessKeyPrefix  = "session:live:"

	notifyTimeout  = 5 * time.Second
	persistTimeout = 5 * time.Second
)

// ErrShuttingDown is returned by Start once Shutdown has begun.
var ErrShuttingDown = errors.New("orchestrator: shutting down")

// InboundHandler receives normalized inbound messages from socket-transport
// sessions. The dispatch producer is wired in here; the indirection keeps
// the orchestrator free of a queue dependency.
type InboundHandler func(ctx context.Context, tenantID, flowID string, kind provider.Kind, msg provider.Message) error

// Endpoints maps provider kinds to their transport endpoints.
type Endpoints map[provider.Kind]string

// Orchestrator manages every tenant session in the process.
type Orchestrator struct {
	log       *slog.Logger
	repo      repository.SessionRepository
	cache     cacheport.Cache
	sink      notifyport.Sink
	factory   provider.Factory
	endpoints Endpoints
	cfg       config.SessionConfig

	inbound InboundHandler

	mu       sync.Mutex
	runtimes map[string]*runtime
	closed   bool
	wg       sync.WaitGroup
}

func New(log *slog.Logger, repo repository.SessionRepository, cache cacheport.Cache,
	sink notifyport.Sink, factory provider.Factory, endpoints Endpoints, cfg config.SessionConfig) *Orchestrator {
	return &Orchestrator{
		log:       log,
		repo:      repo,
		cache:     cache,
		sink:      sink,
		factory:   factory,
		endpoints: endpoints,
		cfg:       cfg,
		runtimes:  make(map[string]*runtime),
	}
}

// SetInboundHandler wires the inbound message path. Must be called before
// any session is started.
func (o *Orchestrator) SetInboundHandler(h InboundHandler) { o.inbound = h }

// Start begins (or returns) the tenant's session. Idempotent: when a live
// adapter already exists the current status is returned and no second
// adapter is created. kind and flowID may be empty on resume; stored values
// win in that case.
func (o *Orchestrator) Start(ctx context.Context, tenantID, flowID string, kind provider.Kind) (session.Status, error) {
	rtCtx, cancel := context.WithCancel(context.Background())
	rt := newRuntime(tenantID, flowID, kind, cancel)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return session.Status{}, ErrShuttingDown
	}
	if existing, ok := o.runtimes[tenantID]; ok {
		o.mu.Unlock()
		cancel()
		return existing.status(), nil
	}
	o.runtimes[tenantID] = rt
	o.mu.Unlock()

	// Repository I/O happens outside the lock; the map reservation above
	// keeps a concurrent Start for the same tenant idempotent meanwhile.
	stored, err := o.repo.Get(ctx, tenantID)
	if err != nil {
		o.removeRuntime(rt)
		cancel()
		close(rt.done)
		return session.Status{}, err
	}
	rt.applyStored(stored)

	o.persist(rt)
	o.notify(notifyport.EventSessionConnecting, tenantID, nil)

	o.wg.Add(1)
	go o.pump(rtCtx, rt)

	return rt.status(), nil
}

// Status reports the tenant's session state. With no live runtime the
// durable row is consulted; a row left Connected by a crashed process is
// reported Disconnected unless its liveness marker is still fresh.
func (o *Orchestrator) Status(ctx context.Context, tenantID string) (session.Status, error) {
	o.mu.Lock()
	rt, ok := o.runtimes[tenantID]
	o.mu.Unlock()
	if ok {
		return rt.status(), nil
	}

	stored, err := o.repo.Get(ctx, tenantID)
	if err != nil {
		return session.Status{}, err
	}
	if stored == nil {
		return session.Status{ConnectionState: session.StateDisconnected}, nil
	}

	st := session.Status{
		ConnectionState: session.StateDisconnected,
		BoundAddress:    stored.BoundAddress,
	}
	switch stored.ConnectionState {
	case session.StateConnected:
		if _, err := o.cache.Get(ctx, livenessKeyPrefix+tenantID); err == nil {
			st.ConnectionState = session.StateConnected
		}
	case session.StateAwaitingHandshake:
		if code, err := o.cache.Get(ctx, handshakeKeyPrefix+tenantID); err == nil {
			st.ConnectionState = session.StateAwaitingHandshake
			st.HandshakeArtifact = code
		}
	}
	return st, nil
}

// Stop tears the session down and clears its persisted rows, credentials
// included. Destructive and never retried automatically.
func (o *Orchestrator) Stop(ctx context.Context, tenantID string) error {
	o.mu.Lock()
	rt := o.runtimes[tenantID]
	delete(o.runtimes, tenantID)
	o.mu.Unlock()

	if rt != nil {
		rt.cancel()
		rt.disconnectCurrent()
		// Wait for the pump to exit so no in-flight persist can land
		// after the rows are cleared.
		select {
		case <-rt.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := o.repo.Clear(ctx, tenantID); err != nil {
		return err
	}
	_, _ = o.cache.Del(ctx, handshakeKeyPrefix+tenantID, livenessKeyPrefix+tenantID)
	o.notify(notifyport.EventSessionDisconnected, tenantID, map[string]any{"reason": "stopped"})
	return nil
}

// Send delivers text through the tenant's live adapter.
func (o *Orchestrator) Send(ctx context.Context, tenantID, address, text string) error {
	return o.send(ctx, tenantID, address, text, false)
}

// SendGroup delivers text to a group address through the tenant's live adapter.
func (o *Orchestrator) SendGroup(ctx context.Context, tenantID, groupAddress, text string) error {
	return o.send(ctx, tenantID, groupAddress, text, true)
}

func (o *Orchestrator) send(ctx context.Context, tenantID, address, text string, group bool) error {
	o.mu.Lock()
	rt, ok := o.runtimes[tenantID]
	o.mu.Unlock()
	if !ok {
		return session.ErrNoActiveSession
	}
	if rt.status().ConnectionState != session.StateConnected {
		return provider.ErrNotConnected
	}
	p := rt.currentProvider()
	if p == nil {
		return provider.ErrNotConnected
	}
	if group {
		return p.SendGroup(ctx, address, text)
	}
	return p.Send(ctx, address, text)
}

// ResumeAll restarts every session persisted as Connected, reusing stored
// credential material and the originally bound flow. Called once on boot.
func (o *Orchestrator) ResumeAll(ctx context.Context) error {
	stored, err := o.repo.ListByState(ctx, session.StateConnected)
	if err != nil {
		return err
	}
	for _, s := range stored {
		if _, err := o.Start(ctx, s.TenantID, s.BoundFlowID, s.ProviderKind); err != nil {
			o.log.Error("orchestrator: resume failed",
				slog.String("tenant", s.TenantID), slog.Any("error", err))
		}
	}
	return nil
}

// Shutdown cancels every runtime and waits for the pumps to drain. Durable
// rows are left untouched so Connected sessions resume on the next boot.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, rt := range o.runtimes {
		rt.cancel()
		rt.disconnectCurrent()
	}
	o.runtimes = make(map[string]*runtime)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump is the per-tenant session loop: build an adapter, connect, consume
// its events until it drops, then decide between reconnecting and giving up.
// Reconnect sleeps happen here, outside any lock, so one tenant's reconnect
// storm never touches another tenant.
func (o *Orchestrator) pump(ctx context.Context, rt *runtime) {
	defer o.wg.Done()
	defer close(rt.done)
	defer rt.disconnectCurrent()

	for {
		if ctx.Err() != nil {
			return
		}
		p, err := o.factory(rt.kind, provider.Config{
			TenantID:    rt.tenantID,
			Endpoint:    o.endpoints[rt.kind],
			Credentials: rt.credentials(),
		})
		if err != nil {
			o.log.Error("orchestrator: provider construction failed",
				slog.String("tenant", rt.tenantID), slog.Any("error", err))
			o.finishTerminal(rt, err.Error())
			return
		}
		rt.setProvider(p)

		var drop *provider.ConnectionEvent
		if err := p.Connect(ctx); err != nil {
			// Dial-level failure; same treatment as a transport drop.
			o.log.Warn("orchestrator: connect failed",
				slog.String("tenant", rt.tenantID), slog.Any("error", err))
			_ = p.Disconnect()
			drop = &provider.ConnectionEvent{Connected: false, Reason: provider.ReasonTransport}
		} else {
			drop = o.consume(ctx, rt, p.Events())
			_ = p.Disconnect()
		}

		if ctx.Err() != nil {
			return
		}
		if drop == nil {
			// Event channel closed cleanly without a drop signal.
			drop = &provider.ConnectionEvent{Connected: false, Reason: provider.ReasonTransport}
		}

		if drop.Reason == provider.ReasonLoggedOut {
			o.log.Info("orchestrator: session logged out", slog.String("tenant", rt.tenantID))
			rt.setState(session.StateDisconnected)
			o.persist(rt)
			o.removeRuntime(rt)
			o.notify(notifyport.EventSessionDisconnected, rt.tenantID, map[string]any{"reason": string(provider.ReasonLoggedOut)})
			return
		}

		attempts := rt.bumpAttempts()
		if attempts > o.cfg.MaxReconnectAttempts {
			o.finishTerminal(rt, "reconnect attempts exhausted")
			return
		}

		o.log.Warn("orchestrator: transport dropped, scheduling reconnect",
			slog.String("tenant", rt.tenantID), slog.Int("attempt", attempts))
		rt.setState(session.StateConnecting)
		o.persist(rt)
		o.notify(notifyport.EventSessionConnecting, rt.tenantID, map[string]any{"attempt": attempts})

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.ReconnectDelay):
		}
	}
}

// consume drains one adapter's event channel. It returns the drop event that
// ended the connection, or nil when the context was canceled or the channel
// closed without an explicit drop.
func (o *Orchestrator) consume(ctx context.Context, rt *runtime, events <-chan provider.Event) *provider.ConnectionEvent {
	refresh := o.cfg.LivenessTTL / 2
	if refresh <= 0 {
		refresh = 15 * time.Second
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if rt.status().ConnectionState == session.StateConnected {
				o.refreshLiveness(rt.tenantID)
			}

		case evt, ok := <-events:
			if !ok {
				return nil
			}
			// Cancellation wins over any buffered event.
			if ctx.Err() != nil {
				return nil
			}
			switch e := evt.(type) {
			case provider.HandshakeEvent:
				o.onHandshake(rt, e.Code)

			case provider.CredentialEvent:
				rt.setCreds(e.Blob)
				o.persistCredentials(rt.tenantID, e.Blob)

			case provider.ConnectionEvent:
				if !e.Connected {
					return &e
				}
				o.onConnected(rt, e.BoundAddress)

			case provider.MessageEvent:
				o.onInbound(ctx, rt, e.Message)
			}
		}
	}
}

func (o *Orchestrator) onHandshake(rt *runtime, code string) {
	rt.setArtifact(code)
	rt.setState(session.StateAwaitingHandshake)
	o.persist(rt)

	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.cache.Set(pctx, handshakeKeyPrefix+rt.tenantID, code, o.cfg.ArtifactTTL); err != nil {
		o.log.Warn("orchestrator: cache handshake artifact",
			slog.String("tenant", rt.tenantID), slog.Any("error", err))
	}
	o.notify(notifyport.EventSessionAwaitingHandshake, rt.tenantID, map[string]any{"artifact": code})
}

func (o *Orchestrator) onConnected(rt *runtime, address string) {
	rt.setConnected(address)
	o.persist(rt)

	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	_, _ = o.cache.Del(pctx, handshakeKeyPrefix+rt.tenantID)
	o.refreshLiveness(rt.tenantID)

	o.log.Info("orchestrator: session connected",
		slog.String("tenant", rt.tenantID), slog.String("address", address))
	o.notify(notifyport.EventSessionConnected, rt.tenantID, map[string]any{"address": address})
}

func (o *Orchestrator) onInbound(ctx context.Context, rt *runtime, msg provider.Message) {
	if o.inbound == nil {
		o.log.Warn("orchestrator: no inbound handler wired, dropping message",
			slog.String("tenant", rt.tenantID))
		return
	}
	if err := o.inbound(ctx, rt.tenantID, rt.flowID, rt.kind, msg); err != nil {
		o.log.Error("orchestrator: inbound enqueue failed",
			slog.String("tenant", rt.tenantID), slog.Any("error", err))
	}
}

// finishTerminal moves the session to Disconnected and emits the terminal
// session-error signal exactly once: the runtime is removed before
// notifying, so later drops on a dead channel cannot re-trigger it.
func (o *Orchestrator) finishTerminal(rt *runtime, reason string) {
	rt.setState(session.StateDisconnected)
	o.persist(rt)
	o.removeRuntime(rt)
	o.notify(notifyport.EventSessionError, rt.tenantID, map[string]any{"reason": reason})
}

func (o *Orchestrator) removeRuntime(rt *runtime) {
	o.mu.Lock()
	if current, ok := o.runtimes[rt.tenantID]; ok && current == rt {
		delete(o.runtimes, rt.tenantID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) persist(rt *runtime) {
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.repo.Upsert(pctx, rt.snapshot()); err != nil {
		o.log.Error("orchestrator: persist session",
			slog.String("tenant", rt.tenantID), slog.Any("error", err))
	}
}

func (o *Orchestrator) persistCredentials(tenantID string, blob []byte) {
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.repo.SaveCredentials(pctx, tenantID, blob); err != nil {
		o.log.Error("orchestrator: persist credentials",
			slog.String("tenant", tenantID), slog.Any("error", err))
	}
}

func (o *Orchestrator) refreshLiveness(tenantID string) {
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.cache.Set(pctx, livenessKeyPrefix+tenantID, "1", o.cfg.LivenessTTL); err != nil {
		o.log.Warn("orchestrator: refresh liveness",
			slog.String("tenant", tenantID), slog.Any("error", err))
	}
}

// notify publishes to the sink without ever blocking the session path.
func (o *Orchestrator) notify(kind, tenantID string, data map[string]any) {
	evt := notifyport.Event{
		Kind:       kind,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		o.sink.Publish(nctx, evt)
	}()
}
