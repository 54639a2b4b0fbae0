package repository

import (
	"context"

	flow "flowgate/internal/pkg/flow/application/domain"
)

// FlowRepository defines persistence for flow definitions and conversation
// sessions. Both belong to the flow engine: flows are written by tenants and
// read on every inbound message; conversation sessions are written only by
// the engine's transition step.
type FlowRepository interface {
	// SaveFlow inserts a flow and returns its generated id.
	SaveFlow(ctx context.Context, f flow.Flow) (string, error)

	// GetFlow returns the flow by id, or flow.ErrFlowNotFound if absent.
	// The Active flag is returned as stored; callers decide whether an
	// inactive flow is acceptable.
	GetFlow(ctx context.Context, id string) (*flow.Flow, error)

	// GetConversation returns the session for (from, to, flowID), or
	// (nil, nil) when no session exists yet.
	GetConversation(ctx context.Context, fromAddress, toAddress, flowID string) (*flow.ConversationSession, error)

	// SaveConversation upserts the session keyed by (from, to, flowID)
	// and returns its id.
	SaveConversation(ctx context.Context, s flow.ConversationSession) (string, error)
}
