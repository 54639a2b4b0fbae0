package repository

import (
	"context"

	session "flowgate/internal/pkg/session/application/domain"
)

// SessionRepository defines persistence for tenant sessions. The session
// orchestrator is the only writer; the HTTP layer reads through the
// orchestrator, never through this port directly.
type SessionRepository interface {
	// Upsert stores the session row for the tenant, replacing any previous one.
	Upsert(ctx context.Context, s session.TenantSession) error

	// Get returns the tenant's session row, or (nil, nil) when none exists.
	Get(ctx context.Context, tenantID string) (*session.TenantSession, error)

	// SaveCredentials updates only the credential blob for the tenant.
	SaveCredentials(ctx context.Context, tenantID string, blob []byte) error

	// ListByState returns every session currently stored in the given state.
	// Used on process start to resume previously connected sessions.
	ListByState(ctx context.Context, state session.ConnectionState) ([]session.TenantSession, error)

	// ListTenantIDs returns the tenant id of every stored session. The
	// dispatch maintenance scan uses it to provision missing workers.
	ListTenantIDs(ctx context.Context) ([]string, error)

	// Clear removes the tenant's session row, including credentials.
	// Destructive; used by explicit stop only.
	Clear(ctx context.Context, tenantID string) error
}
