package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgate/internal/config"
	cacheadapter "flowgate/internal/infrastructure/cache/adapter"
	notifyport "flowgate/internal/infrastructure/notify/port"
	provider "flowgate/internal/pkg/provider/port"
	"flowgate/internal/pkg/provider/providertest"
	session "flowgate/internal/pkg/session/application/domain"
	"flowgate/internal/pkg/session/orchestrator"
)

// memSessionRepo is an in-memory SessionRepository for orchestrator tests.
type memSessionRepo struct {
	mu   sync.Mutex
	rows map[string]session.TenantSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{rows: make(map[string]session.TenantSession)}
}

func (r *memSessionRepo) Upsert(_ context.Context, s session.TenantSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.TenantID] = s
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, tenantID string) (*session.TenantSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[tenantID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memSessionRepo) SaveCredentials(_ context.Context, tenantID string, blob []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[tenantID]
	if !ok {
		return errors.New("no row")
	}
	s.CredentialBlob = blob
	r.rows[tenantID] = s
	return nil
}

func (r *memSessionRepo) ListByState(_ context.Context, state session.ConnectionState) ([]session.TenantSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.TenantSession
	for _, s := range r.rows {
		if s.ConnectionState == state {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) ListTenantIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memSessionRepo) Clear(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, tenantID)
	return nil
}

func (r *memSessionRepo) state(tenantID string) session.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[tenantID].ConnectionState
}

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []notifyport.Event
}

func (s *recordingSink) Publish(_ context.Context, evt notifyport.Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, evt := range s.events {
		if evt.Kind == kind {
			n++
		}
	}
	return n
}

// fakeFactory hands out scriptable providers and records every construction.
type fakeFactory struct {
	mu         sync.Mutex
	connectErr error
	built      []*providertest.Fake
	builtCh    chan *providertest.Fake
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{builtCh: make(chan *providertest.Fake, 32)}
}

func (ff *fakeFactory) factory(kind provider.Kind, _ provider.Config) (provider.Provider, error) {
	f := providertest.NewFake()
	f.ProviderKind = kind
	ff.mu.Lock()
	f.ConnectErr = ff.connectErr
	ff.built = append(ff.built, f)
	ff.mu.Unlock()
	ff.builtCh <- f
	return f, nil
}

func (ff *fakeFactory) buildCount() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.built)
}

func (ff *fakeFactory) next(t *testing.T) *providertest.Fake {
	t.Helper()
	select {
	case f := <-ff.builtCh:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no provider was constructed")
		return nil
	}
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 5,
		ArtifactTTL:          time.Minute,
		LivenessTTL:          time.Minute,
	}
}

type fixture struct {
	orch    *orchestrator.Orchestrator
	repo    *memSessionRepo
	sink    *recordingSink
	factory *fakeFactory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemSessionRepo()
	sink := &recordingSink{}
	factory := newFakeFactory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := orchestrator.New(log, repo, cacheadapter.NewMemoryCache(), sink,
		factory.factory, orchestrator.Endpoints{}, testSessionConfig())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &fixture{orch: orch, repo: repo, sink: sink, factory: factory}
}

func Test_Start_reaches_connected_through_handshake(t *testing.T) {
	fx := newFixture(t)

	st, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	assert.Equal(t, session.StateConnecting, st.ConnectionState)

	fake := fx.factory.next(t)
	fake.EmitHandshake("code-42")

	assert.Eventually(t, func() bool {
		st, err := fx.orch.Status(context.Background(), "tenant-1")
		return err == nil && st.ConnectionState == session.StateAwaitingHandshake && st.HandshakeArtifact == "code-42"
	}, 2*time.Second, 5*time.Millisecond)

	fake.EmitConnected("+555000")

	assert.Eventually(t, func() bool {
		st, err := fx.orch.Status(context.Background(), "tenant-1")
		return err == nil && st.ConnectionState == session.StateConnected && st.BoundAddress == "+555000"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fx.sink.count(notifyport.EventSessionConnected))
}

func Test_Start_is_idempotent_for_a_live_session(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	fake := fx.factory.next(t)
	fake.EmitConnected("+555000")

	assert.Eventually(t, func() bool {
		st, _ := fx.orch.Status(context.Background(), "tenant-1")
		return st.ConnectionState == session.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	st, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	assert.Equal(t, session.StateConnected, st.ConnectionState)
	assert.Equal(t, 1, fx.factory.buildCount())
}

func Test_exhausted_reconnects_end_the_session_with_one_error(t *testing.T) {
	fx := newFixture(t)
	fx.factory.connectErr = provider.ErrProviderUnavailable

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return fx.sink.count(notifyport.EventSessionError) == 1
	}, 5*time.Second, 5*time.Millisecond)

	// Initial attempt plus five bounded reconnects.
	assert.Eventually(t, func() bool {
		return fx.factory.buildCount() == 6
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, session.StateDisconnected, fx.repo.state("tenant-1"))

	err = fx.orch.Send(context.Background(), "tenant-1", "+1", "hi")
	assert.ErrorIs(t, err, session.ErrNoActiveSession)

	// No further errors trickle in after the terminal one.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fx.sink.count(notifyport.EventSessionError))
	assert.Equal(t, 6, fx.factory.buildCount())
}

func Test_logout_ends_the_session_without_reconnecting(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	fake := fx.factory.next(t)
	fake.EmitConnected("+555000")
	assert.Eventually(t, func() bool {
		st, _ := fx.orch.Status(context.Background(), "tenant-1")
		return st.ConnectionState == session.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	fake.EmitDropped(provider.ReasonLoggedOut)

	assert.Eventually(t, func() bool {
		return fx.repo.state("tenant-1") == session.StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fx.factory.buildCount())
	assert.ErrorIs(t, fx.orch.Send(context.Background(), "tenant-1", "+1", "hi"), session.ErrNoActiveSession)
}

func Test_transport_drop_builds_a_fresh_provider(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	first := fx.factory.next(t)
	first.EmitConnected("+555000")
	assert.Eventually(t, func() bool {
		st, _ := fx.orch.Status(context.Background(), "tenant-1")
		return st.ConnectionState == session.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	first.EmitDropped(provider.ReasonTransport)

	second := fx.factory.next(t)
	assert.NotSame(t, first, second)
	second.EmitConnected("+555000")
	assert.Eventually(t, func() bool {
		st, _ := fx.orch.Status(context.Background(), "tenant-1")
		return st.ConnectionState == session.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func Test_Stop_clears_stored_state_and_credentials(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	fake := fx.factory.next(t)
	fake.EmitCredentials([]byte("secret"))
	fake.EmitConnected("+555000")
	assert.Eventually(t, func() bool {
		st, _ := fx.orch.Status(context.Background(), "tenant-1")
		return st.ConnectionState == session.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, fx.orch.Stop(context.Background(), "tenant-1"))

	stored, err := fx.repo.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.ErrorIs(t, fx.orch.Send(context.Background(), "tenant-1", "+1", "hi"), session.ErrNoActiveSession)

	st, err := fx.orch.Status(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, session.StateDisconnected, st.ConnectionState)
}

func Test_Stop_is_not_undone_by_buffered_events(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	fake := fx.factory.next(t)
	fake.EmitConnected("+555000")
	assert.Eventually(t, func() bool {
		st, _ := fx.orch.Status(context.Background(), "tenant-1")
		return st.ConnectionState == session.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	// Leave an unconsumed connection event in the adapter's buffer and
	// stop right behind it.
	fake.EmitConnected("+555001")
	require.NoError(t, fx.orch.Stop(context.Background(), "tenant-1"))

	stored, err := fx.repo.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// The buffered event must not resurrect the cleared row.
	time.Sleep(50 * time.Millisecond)
	stored, err = fx.repo.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func Test_Send_requires_a_connected_session(t *testing.T) {
	fx := newFixture(t)

	err := fx.orch.Send(context.Background(), "ghost", "+1", "hi")
	assert.ErrorIs(t, err, session.ErrNoActiveSession)

	_, err = fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	fx.factory.next(t)

	err = fx.orch.Send(context.Background(), "tenant-1", "+1", "hi")
	assert.ErrorIs(t, err, provider.ErrNotConnected)
}

func Test_Send_delivers_through_the_live_provider(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	fake := fx.factory.next(t)
	fake.EmitConnected("+555000")
	assert.Eventually(t, func() bool {
		st, _ := fx.orch.Status(context.Background(), "tenant-1")
		return st.ConnectionState == session.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, fx.orch.Send(context.Background(), "tenant-1", "+222", "hello"))
	require.NoError(t, fx.orch.SendGroup(context.Background(), "tenant-1", "group-9", "hey all"))

	sent := fake.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, providertest.SentMessage{Address: "+222", Text: "hello"}, sent[0])
	assert.Equal(t, providertest.SentMessage{Address: "group-9", Text: "hey all", Group: true}, sent[1])
}

func Test_inbound_messages_reach_the_wired_handler(t *testing.T) {
	fx := newFixture(t)

	type inbound struct {
		tenantID string
		flowID   string
		kind     provider.Kind
		msg      provider.Message
	}
	got := make(chan inbound, 1)
	fx.orch.SetInboundHandler(func(_ context.Context, tenantID, flowID string, kind provider.Kind, msg provider.Message) error {
		got <- inbound{tenantID: tenantID, flowID: flowID, kind: kind, msg: msg}
		return nil
	})

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	fake := fx.factory.next(t)
	fake.EmitConnected("+555000")
	fake.EmitMessage(provider.Message{ID: "m1", From: "+222", Text: "hi there"})

	select {
	case in := <-got:
		assert.Equal(t, "tenant-1", in.tenantID)
		assert.Equal(t, "flow-1", in.flowID)
		assert.Equal(t, provider.KindSocket, in.kind)
		assert.Equal(t, "hi there", in.msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message never reached the handler")
	}
}

func Test_credentials_are_persisted_when_refreshed(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)
	require.NoError(t, err)
	fake := fx.factory.next(t)
	fake.EmitCredentials([]byte("blob-1"))

	assert.Eventually(t, func() bool {
		stored, err := fx.repo.Get(context.Background(), "tenant-1")
		return err == nil && stored != nil && string(stored.CredentialBlob) == "blob-1"
	}, 2*time.Second, 5*time.Millisecond)
}

func Test_ResumeAll_restarts_connected_sessions(t *testing.T) {
	fx := newFixture(t)
	for _, id := range []string{"tenant-a", "tenant-b"} {
		require.NoError(t, fx.repo.Upsert(context.Background(), session.TenantSession{
			TenantID:        id,
			ProviderKind:    provider.KindSocket,
			ConnectionState: session.StateConnected,
			BoundFlowID:     "flow-1",
			CredentialBlob:  []byte("stored"),
		}))
	}
	require.NoError(t, fx.repo.Upsert(context.Background(), session.TenantSession{
		TenantID:        "tenant-c",
		ProviderKind:    provider.KindSocket,
		ConnectionState: session.StateDisconnected,
	}))

	require.NoError(t, fx.orch.ResumeAll(context.Background()))

	assert.Eventually(t, func() bool {
		return fx.factory.buildCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	fx.factory.next(t).EmitConnected("+a")
	fx.factory.next(t).EmitConnected("+b")

	assert.Eventually(t, func() bool {
		a, _ := fx.orch.Status(context.Background(), "tenant-a")
		b, _ := fx.orch.Status(context.Background(), "tenant-b")
		return a.ConnectionState == session.StateConnected && b.ConnectionState == session.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func Test_Status_distrusts_stale_connected_rows(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.repo.Upsert(context.Background(), session.TenantSession{
		TenantID:        "tenant-1",
		ProviderKind:    provider.KindSocket,
		ConnectionState: session.StateConnected,
		BoundAddress:    "+555000",
	}))

	// No liveness marker exists, so the row is from a dead process.
	st, err := fx.orch.Status(context.Background(), "tenant-1")

	require.NoError(t, err)
	assert.Equal(t, session.StateDisconnected, st.ConnectionState)
	assert.Equal(t, "+555000", st.BoundAddress)
}

// gatedSessionRepo stalls Get for one tenant until released, signalling when
// the stall begins.
type gatedSessionRepo struct {
	*memSessionRepo
	tenantID string
	entered  chan struct{}
	release  chan struct{}
}

func (r *gatedSessionRepo) Get(ctx context.Context, tenantID string) (*session.TenantSession, error) {
	if tenantID == r.tenantID {
		close(r.entered)
		<-r.release
	}
	return r.memSessionRepo.Get(ctx, tenantID)
}

func Test_slow_repository_in_Start_does_not_block_other_tenants(t *testing.T) {
	repo := &gatedSessionRepo{
		memSessionRepo: newMemSessionRepo(),
		tenantID:       "tenant-slow",
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := orchestrator.New(log, repo, cacheadapter.NewMemoryCache(), &recordingSink{},
		newFakeFactory().factory, orchestrator.Endpoints{}, testSessionConfig())

	started := make(chan struct{})
	go func() {
		_, _ = orch.Start(context.Background(), "tenant-slow", "flow-1", provider.KindSocket)
		close(started)
	}()
	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Start never reached the repository")
	}

	// With tenant-slow stuck in its repository lookup, other tenants must
	// still get answers.
	answered := make(chan struct{})
	go func() {
		_, err := orch.Status(context.Background(), "tenant-other")
		assert.NoError(t, err)
		close(answered)
	}()
	select {
	case <-answered:
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind another tenant's Start")
	}

	close(repo.release)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Start never returned after release")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, orch.Shutdown(ctx))
}

func Test_Start_after_shutdown_is_rejected(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fx.orch.Shutdown(ctx))

	_, err := fx.orch.Start(context.Background(), "tenant-1", "flow-1", provider.KindSocket)

	assert.ErrorIs(t, err, orchestrator.ErrShuttingDown)
}
