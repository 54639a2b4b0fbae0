package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	dispatch "flowgate/internal/pkg/dispatch/port"
	flow "flowgate/internal/pkg/flow/application/domain"
	"flowgate/internal/pkg/flow/application/usecase"
	provider "flowgate/internal/pkg/provider/port"
	session "flowgate/internal/pkg/session/application/domain"
)

// Sender delivers flow replies back through the tenant's live session.
// Satisfied by the session orchestrator.
type Sender interface {
	Send(ctx context.Context, tenantID, address, text string) error
	SendGroup(ctx context.Context, tenantID, groupAddress, text string) error
}

// NewInboundHandler builds the queue handler for inbound messages: resolve
// the message against the tenant's flow, then send the reply to the sender
// address, or to the group when the message came from one.
//
// Error routing follows the queue contract: data problems (missing flow,
// corrupt conversation) and caller errors (no live session) never retry;
// transient provider and persistence failures do.
func NewInboundHandler(log *slog.Logger, resolver *usecase.ResolveMessageUseCase, sender Sender) dispatch.Handler {
	return func(ctx context.Context, job dispatch.InboundJob) error {
		res, err := resolver.Execute(ctx, usecase.ResolveMessageInput{
			TenantID:    job.TenantID,
			FlowID:      job.FlowID,
			FromAddress: job.Message.From,
			ToAddress:   job.Message.To,
			UserText:    job.Message.Text,
		})
		if err != nil {
			if errors.Is(err, flow.ErrFlowNotFound) || errors.Is(err, flow.ErrConversationCorrupt) {
				return fmt.Errorf("resolve message: %v: %w", err, dispatch.ErrSkipRetry)
			}
			return fmt.Errorf("resolve message: %w", err)
		}
		if res.Event != "" {
			log.Info("flow event emitted",
				"tenantId", job.TenantID, "event", res.Event, "state", res.StateName)
		}
		if res.Reply == "" {
			return nil
		}

		if job.Message.IsGroup {
			err = sender.SendGroup(ctx, job.TenantID, job.Message.GroupAddress, res.Reply)
		} else {
			err = sender.Send(ctx, job.TenantID, job.Message.From, res.Reply)
		}
		if err != nil {
			if errors.Is(err, session.ErrNoActiveSession) || errors.Is(err, provider.ErrNotConnected) {
				return fmt.Errorf("send reply: %v: %w", err, dispatch.ErrSkipRetry)
			}
			return fmt.Errorf("send reply: %w", err)
		}
		return nil
	}
}
