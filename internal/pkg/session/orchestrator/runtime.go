package orchestrator

import (
	"context"
	"sync"

	provider "flowgate/internal/pkg/provider/port"
	session "flowgate/internal/pkg/session/application/domain"
)

// runtime is the in-memory handle for one tenant's live session: the current
// adapter instance, the connection state, and the per-tenant context used to
// cancel reconnect sleeps. The orchestrator's pump goroutine is the only
// writer of state fields; Status/Send read them under the runtime mutex.
type runtime struct {
	tenantID string

	// flowID and kind are settled by applyStored before the pump starts
	// and are read-only from then on.
	flowID string
	kind   provider.Kind

	cancel context.CancelFunc
	// done is closed when the pump exits (or, if the pump never starts,
	// by Start's failure path). Stop waits on it before clearing rows.
	done chan struct{}

	mu           sync.Mutex
	provider     provider.Provider
	state        session.ConnectionState
	artifact     string
	boundAddress string
	creds        []byte
	attempts     int
}

func newRuntime(tenantID, flowID string, kind provider.Kind, cancel context.CancelFunc) *runtime {
	return &runtime{
		tenantID: tenantID,
		flowID:   flowID,
		kind:     kind,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    session.StateConnecting,
	}
}

// applyStored fills in whatever the caller left unspecified from the durable
// row and falls back to the socket transport. Must run before the pump starts.
func (rt *runtime) applyStored(stored *session.TenantSession) {
	if stored != nil {
		rt.setCreds(stored.CredentialBlob)
		if rt.kind == "" {
			rt.kind = stored.ProviderKind
		}
		if rt.flowID == "" {
			rt.flowID = stored.BoundFlowID
		}
	}
	if rt.kind == "" {
		rt.kind = provider.KindSocket
	}
}

func (rt *runtime) setProvider(p provider.Provider) {
	rt.mu.Lock()
	rt.provider = p
	rt.mu.Unlock()
}

func (rt *runtime) currentProvider() provider.Provider {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.provider
}

// disconnectCurrent tears down the currently held adapter, if any.
// Provider Disconnect is idempotent, so racing with the pump is harmless.
func (rt *runtime) disconnectCurrent() {
	if p := rt.currentProvider(); p != nil {
		_ = p.Disconnect()
	}
}

func (rt *runtime) setState(state session.ConnectionState) {
	rt.mu.Lock()
	rt.state = state
	rt.mu.Unlock()
}

func (rt *runtime) setArtifact(code string) {
	rt.mu.Lock()
	rt.artifact = code
	rt.mu.Unlock()
}

func (rt *runtime) setConnected(address string) {
	rt.mu.Lock()
	rt.state = session.StateConnected
	rt.boundAddress = address
	rt.artifact = ""
	rt.attempts = 0
	rt.mu.Unlock()
}

func (rt *runtime) setCreds(blob []byte) {
	rt.mu.Lock()
	rt.creds = blob
	rt.mu.Unlock()
}

func (rt *runtime) credentials() []byte {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.creds
}

// bumpAttempts increments the consecutive-drop counter and reports it.
func (rt *runtime) bumpAttempts() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.attempts++
	return rt.attempts
}

func (rt *runtime) status() session.Status {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return session.Status{
		ConnectionState:   rt.state,
		HandshakeArtifact: rt.artifact,
		BoundAddress:      rt.boundAddress,
	}
}

// snapshot builds the durable row for the runtime's current state.
func (rt *runtime) snapshot() session.TenantSession {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return session.TenantSession{
		TenantID:          rt.tenantID,
		ProviderKind:      rt.kind,
		ConnectionState:   rt.state,
		CredentialBlob:    rt.creds,
		HandshakeArtifact: rt.artifact,
		BoundFlowID:       rt.flowID,
		BoundAddress:      rt.boundAddress,
	}
}
