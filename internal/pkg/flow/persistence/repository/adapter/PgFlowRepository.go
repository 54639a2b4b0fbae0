package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	flow "flowgate/internal/pkg/flow/application/domain"
)

type PgFlowRepository struct {
	pool *pgxpool.Pool
}

func NewPgFlowRepository(pool *pgxpool.Pool) *PgFlowRepository {
	return &PgFlowRepository{pool: pool}
}

func (r *PgFlowRepository) SaveFlow(ctx context.Context, f flow.Flow) (string, error) {
	if r == nil || r.pool == nil {
		return "", errors.New("PgFlowRepository: nil pool")
	}
	states, err := json.Marshal(f.States)
	if err != nil {
		return "", fmt.Errorf("PgFlowRepository: encode states: %w", err)
	}
	var id string
	err = r.pool.QueryRow(ctx, `
		INSERT INTO flowgate.flow (tenant_id, name, initial_state, states, active)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		RETURNING id::text
	`, f.TenantID, f.Name, f.InitialStateName, states, f.Active).Scan(&id)
	return id, err
}

func (r *PgFlowRepository) GetFlow(ctx context.Context, id string) (*flow.Flow, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgFlowRepository: nil pool")
	}
	var (
		f      flow.Flow
		states []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, tenant_id, name, initial_state, states, active
		FROM flowgate.flow
		WHERE id = $1::uuid
	`, id).Scan(&f.ID, &f.TenantID, &f.Name, &f.InitialStateName, &states, &f.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, flow.ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(states, &f.States); err != nil {
		return nil, fmt.Errorf("PgFlowRepository: decode states: %w", err)
	}
	return &f, nil
}

func (r *PgFlowRepository) GetConversation(ctx context.Context, fromAddress, toAddress, flowID string) (*flow.ConversationSession, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgFlowRepository: nil pool")
	}
	var s flow.ConversationSession
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, tenant_id, from_address, to_address, flow_id::text, current_state, last_activity_at
		FROM flowgate.conversation_session
		WHERE from_address = $1 AND to_address = $2 AND flow_id = $3::uuid
	`, fromAddress, toAddress, flowID).
		Scan(&s.ID, &s.TenantID, &s.FromAddress, &s.ToAddress, &s.FlowID, &s.CurrentStateName, &s.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PgFlowRepository) SaveConversation(ctx context.Context, s flow.ConversationSession) (string, error) {
	if r == nil || r.pool == nil {
		return "", errors.New("PgFlowRepository: nil pool")
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = time.Now().UTC()
	}
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO flowgate.conversation_session (tenant_id, from_address, to_address, flow_id, current_state, last_activity_at)
		VALUES ($1, $2, $3, $4::uuid, $5, $6)
		ON CONFLICT (from_address, to_address, flow_id)
		DO UPDATE SET current_state = EXCLUDED.current_state,
		              last_activity_at = EXCLUDED.last_activity_at
		RETURNING id::text
	`, s.TenantID, s.FromAddress, s.ToAddress, s.FlowID, s.CurrentStateName, s.LastActivityAt).Scan(&id)
	return id, err
}
