package usecase

import (
	"context"
	"fmt"
	"time"

	flow "flowgate/internal/pkg/flow/application/domain"
	repository "flowgate/internal/pkg/flow/persistence/repository/port"
)

// ResolveMessageInput carries one inbound turn of a conversation.
type ResolveMessageInput struct {
	TenantID    string
	FlowID      string
	FromAddress string
	ToAddress   string
	UserText    string
}

// ResolveMessageResult is the engine's answer for one turn.
// SessionUpdated distinguishes a committed transition from a re-prompt.
type ResolveMessageResult struct {
	Reply          string
	StateName      string
	Event          string
	SessionUpdated bool
}

// ResolveMessageUseCase is the flow engine: it evaluates a tenant-authored
// flow against the conversation session and the user input, producing the
// next state and reply text.
//
// Callers must serialize turns per tenant (the dispatch queue does this);
// the engine itself performs no locking on the conversation session.
type ResolveMessageUseCase struct {
	Repo repository.FlowRepository
}

func NewResolveMessageUseCase(repo repository.FlowRepository) *ResolveMessageUseCase {
	return &ResolveMessageUseCase{Repo: repo}
}

// Execute resolves the reply for one inbound message and persists the new
// conversation state. Session state is persisted only after a successful
// transition, so a failure on any step leaves the session untouched.
func (uc *ResolveMessageUseCase) Execute(ctx context.Context, in ResolveMessageInput) (ResolveMessageResult, error) {
	if in.FlowID == "" || in.FromAddress == "" {
		return ResolveMessageResult{}, fmt.Errorf("flowId and fromAddress are required")
	}

	f, err := uc.Repo.GetFlow(ctx, in.FlowID)
	if err != nil {
		return ResolveMessageResult{}, err
	}
	if !f.Active {
		return ResolveMessageResult{}, flow.ErrFlowNotFound
	}

	conv, err := uc.Repo.GetConversation(ctx, in.FromAddress, in.ToAddress, in.FlowID)
	if err != nil {
		return ResolveMessageResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// First contact: create the session at the initial state and greet.
	// No input matching happens on this turn.
	if conv == nil {
		created := flow.ConversationSession{
			TenantID:         in.TenantID,
			FromAddress:      in.FromAddress,
			ToAddress:        in.ToAddress,
			FlowID:           in.FlowID,
			CurrentStateName: f.InitialStateName,
			LastActivityAt:   time.Now().UTC(),
		}
		if _, err := uc.Repo.SaveConversation(ctx, created); err != nil {
			return ResolveMessageResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return ResolveMessageResult{
			Reply:          f.States[f.InitialStateName].Message,
			StateName:      f.InitialStateName,
			SessionUpdated: true,
		}, nil
	}

	current, ok := f.States[conv.CurrentStateName]
	if !ok {
		// The flow was rewritten underneath an existing session.
		return ResolveMessageResult{}, fmt.Errorf("%w: state %q", flow.ErrConversationCorrupt, conv.CurrentStateName)
	}

	opt, matched := current.MatchOption(in.UserText)
	if matched {
		// A dangling next-state reference degrades to no-match instead of
		// failing the conversation; the write-time validator normally
		// prevents this from being stored at all.
		next, ok := f.States[opt.NextStateName]
		if ok {
			conv.CurrentStateName = opt.NextStateName
			conv.LastActivityAt = time.Now().UTC()
			if _, err := uc.Repo.SaveConversation(ctx, *conv); err != nil {
				return ResolveMessageResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			return ResolveMessageResult{
				Reply:          next.Message,
				StateName:      opt.NextStateName,
				Event:          opt.Event,
				SessionUpdated: true,
			}, nil
		}
	}

	// No match (or terminal state): re-prompt with the current state's
	// message and leave the session untouched.
	return ResolveMessageResult{
		Reply:          current.Message,
		StateName:      conv.CurrentStateName,
		SessionUpdated: false,
	}, nil
}
