package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	provider "flowgate/internal/pkg/provider/port"
	session "flowgate/internal/pkg/session/application/domain"
)

type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

func (r *PgSessionRepository) Upsert(ctx context.Context, s session.TenantSession) error {
	if r == nil || r.pool == nil {
		return errors.New("PgSessionRepository: nil pool")
	}
	if s.LastSeenAt.IsZero() {
		s.LastSeenAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO flowgate.tenant_session (
			tenant_id, provider_kind, connection_state, credential_blob,
			handshake_artifact, bound_flow_id, bound_address, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid, $7, $8)
		ON CONFLICT (tenant_id)
		DO UPDATE SET provider_kind      = EXCLUDED.provider_kind,
		              connection_state   = EXCLUDED.connection_state,
		              credential_blob    = EXCLUDED.credential_blob,
		              handshake_artifact = EXCLUDED.handshake_artifact,
		              bound_flow_id      = EXCLUDED.bound_flow_id,
		              bound_address      = EXCLUDED.bound_address,
		              last_seen_at       = EXCLUDED.last_seen_at
	`, s.TenantID, string(s.ProviderKind), string(s.ConnectionState), s.CredentialBlob,
		s.HandshakeArtifact, s.BoundFlowID, s.BoundAddress, s.LastSeenAt)
	return err
}

func (r *PgSessionRepository) Get(ctx context.Context, tenantID string) (*session.TenantSession, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgSessionRepository: nil pool")
	}
	s, err := scanSession(r.pool.QueryRow(ctx, `
		SELECT tenant_id, provider_kind, connection_state, credential_blob,
		       handshake_artifact, COALESCE(bound_flow_id::text, ''), bound_address, last_seen_at
		FROM flowgate.tenant_session
		WHERE tenant_id = $1
	`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PgSessionRepository) SaveCredentials(ctx context.Context, tenantID string, blob []byte) error {
	if r == nil || r.pool == nil {
		return errors.New("PgSessionRepository: nil pool")
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE flowgate.tenant_session
		SET credential_blob = $2, last_seen_at = $3
		WHERE tenant_id = $1
	`, tenantID, blob, time.Now().UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgSessionRepository) ListByState(ctx context.Context, state session.ConnectionState) ([]session.TenantSession, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgSessionRepository: nil pool")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT tenant_id, provider_kind, connection_state, credential_blob,
		       handshake_artifact, COALESCE(bound_flow_id::text, ''), bound_address, last_seen_at
		FROM flowgate.tenant_session
		WHERE connection_state = $1
	`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []session.TenantSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *PgSessionRepository) ListTenantIDs(ctx context.Context) ([]string, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgSessionRepository: nil pool")
	}
	rows, err := r.pool.Query(ctx, `SELECT tenant_id FROM flowgate.tenant_session`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgSessionRepository) Clear(ctx context.Context, tenantID string) error {
	if r == nil || r.pool == nil {
		return errors.New("PgSessionRepository: nil pool")
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM flowgate.tenant_session WHERE tenant_id = $1`, tenantID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.TenantSession, error) {
	var (
		s     session.TenantSession
		kind  string
		state string
	)
	if err := row.Scan(&s.TenantID, &kind, &state, &s.CredentialBlob,
		&s.HandshakeArtifact, &s.BoundFlowID, &s.BoundAddress, &s.LastSeenAt); err != nil {
		return nil, err
	}
	s.ProviderKind = provider.Kind(kind)
	s.ConnectionState = session.ConnectionState(state)
	return &s, nil
}
