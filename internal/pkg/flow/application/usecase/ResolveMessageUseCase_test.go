package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flow "flowgate/internal/pkg/flow/application/domain"
	"flowgate/internal/pkg/flow/application/usecase"
)

// memFlowRepo is an in-memory FlowRepository for engine tests.
type memFlowRepo struct {
	flows         map[string]flow.Flow
	conversations map[string]flow.ConversationSession
	convErr       error
	saveErr       error
}

func newMemFlowRepo() *memFlowRepo {
	return &memFlowRepo{
		flows:         make(map[string]flow.Flow),
		conversations: make(map[string]flow.ConversationSession),
	}
}

func convKey(from, to, flowID string) string { return from + "|" + to + "|" + flowID }

func (r *memFlowRepo) SaveFlow(_ context.Context, f flow.Flow) (string, error) {
	r.flows[f.ID] = f
	return f.ID, nil
}

func (r *memFlowRepo) GetFlow(_ context.Context, id string) (*flow.Flow, error) {
	f, ok := r.flows[id]
	if !ok {
		return nil, flow.ErrFlowNotFound
	}
	return &f, nil
}

func (r *memFlowRepo) GetConversation(_ context.Context, from, to, flowID string) (*flow.ConversationSession, error) {
	if r.convErr != nil {
		return nil, r.convErr
	}
	s, ok := r.conversations[convKey(from, to, flowID)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memFlowRepo) SaveConversation(_ context.Context, s flow.ConversationSession) (string, error) {
	if r.saveErr != nil {
		return "", r.saveErr
	}
	if s.ID == "" {
		s.ID = "conv-" + s.FromAddress
	}
	r.conversations[convKey(s.FromAddress, s.ToAddress, s.FlowID)] = s
	return s.ID, nil
}

func repoWithFlow(t *testing.T) *memFlowRepo {
	t.Helper()
	r := newMemFlowRepo()
	r.flows["flow-1"] = flow.Flow{
		ID:               "flow-1",
		TenantID:         "tenant-1",
		Name:             "support",
		InitialStateName: "welcome",
		Active:           true,
		States: map[string]flow.State{
			"welcome": {
				Message: "Hi! Reply SALES or SUPPORT.",
				Options: []flow.Option{
					{MatchInputs: []string{"sales"}, NextStateName: "sales"},
					{MatchInputs: []string{"support"}, Event: "support_requested", NextStateName: "support"},
				},
			},
			"sales":   {Message: "Sales here."},
			"support": {Message: "Support here."},
		},
	}
	return r
}

func input(text string) usecase.ResolveMessageInput {
	return usecase.ResolveMessageInput{
		TenantID:    "tenant-1",
		FlowID:      "flow-1",
		FromAddress: "+111",
		ToAddress:   "+999",
		UserText:    text,
	}
}

func Test_Execute_first_contact_creates_session_and_greets(t *testing.T) {
	repo := repoWithFlow(t)
	uc := usecase.NewResolveMessageUseCase(repo)

	res, err := uc.Execute(context.Background(), input("hello"))

	require.NoError(t, err)
	assert.Equal(t, "Hi! Reply SALES or SUPPORT.", res.Reply)
	assert.Equal(t, "welcome", res.StateName)
	assert.True(t, res.SessionUpdated)

	stored := repo.conversations[convKey("+111", "+999", "flow-1")]
	assert.Equal(t, "welcome", stored.CurrentStateName)
}

func Test_Execute_matching_input_transitions_and_persists(t *testing.T) {
	repo := repoWithFlow(t)
	uc := usecase.NewResolveMessageUseCase(repo)
	_, err := uc.Execute(context.Background(), input("hello"))
	require.NoError(t, err)

	res, err := uc.Execute(context.Background(), input("support"))

	require.NoError(t, err)
	assert.Equal(t, "Support here.", res.Reply)
	assert.Equal(t, "support", res.StateName)
	assert.Equal(t, "support_requested", res.Event)
	assert.True(t, res.SessionUpdated)

	stored := repo.conversations[convKey("+111", "+999", "flow-1")]
	assert.Equal(t, "support", stored.CurrentStateName)
}

func Test_Execute_no_match_reprompts_without_persisting(t *testing.T) {
	repo := repoWithFlow(t)
	uc := usecase.NewResolveMessageUseCase(repo)
	_, err := uc.Execute(context.Background(), input("hello"))
	require.NoError(t, err)

	res, err := uc.Execute(context.Background(), input("banana"))

	require.NoError(t, err)
	assert.Equal(t, "Hi! Reply SALES or SUPPORT.", res.Reply)
	assert.Equal(t, "welcome", res.StateName)
	assert.False(t, res.SessionUpdated)
}

func Test_Execute_terminal_state_always_reprompts(t *testing.T) {
	repo := repoWithFlow(t)
	uc := usecase.NewResolveMessageUseCase(repo)
	_, err := uc.Execute(context.Background(), input("hello"))
	require.NoError(t, err)
	_, err = uc.Execute(context.Background(), input("sales"))
	require.NoError(t, err)

	res, err := uc.Execute(context.Background(), input("support"))

	require.NoError(t, err)
	assert.Equal(t, "Sales here.", res.Reply)
	assert.False(t, res.SessionUpdated)
}

func Test_Execute_inactive_flow_reports_not_found(t *testing.T) {
	repo := repoWithFlow(t)
	f := repo.flows["flow-1"]
	f.Active = false
	repo.flows["flow-1"] = f
	uc := usecase.NewResolveMessageUseCase(repo)

	_, err := uc.Execute(context.Background(), input("hello"))

	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
}

func Test_Execute_unknown_flow_reports_not_found(t *testing.T) {
	uc := usecase.NewResolveMessageUseCase(newMemFlowRepo())

	in := input("hello")
	in.FlowID = "missing"
	_, err := uc.Execute(context.Background(), in)

	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
}

func Test_Execute_session_on_removed_state_is_corrupt(t *testing.T) {
	repo := repoWithFlow(t)
	repo.conversations[convKey("+111", "+999", "flow-1")] = flow.ConversationSession{
		TenantID:         "tenant-1",
		FromAddress:      "+111",
		ToAddress:        "+999",
		FlowID:           "flow-1",
		CurrentStateName: "removed_state",
	}
	uc := usecase.NewResolveMessageUseCase(repo)

	_, err := uc.Execute(context.Background(), input("support"))

	assert.ErrorIs(t, err, flow.ErrConversationCorrupt)
}

func Test_Execute_dangling_next_state_degrades_to_no_match(t *testing.T) {
	repo := repoWithFlow(t)
	f := repo.flows["flow-1"]
	f.States["welcome"] = flow.State{
		Message: "Hi! Reply SALES or SUPPORT.",
		Options: []flow.Option{{MatchInputs: []string{"sales"}, NextStateName: "gone"}},
	}
	repo.flows["flow-1"] = f
	uc := usecase.NewResolveMessageUseCase(repo)
	_, err := uc.Execute(context.Background(), input("hello"))
	require.NoError(t, err)

	res, err := uc.Execute(context.Background(), input("sales"))

	require.NoError(t, err)
	assert.Equal(t, "Hi! Reply SALES or SUPPORT.", res.Reply)
	assert.False(t, res.SessionUpdated)
	stored := repo.conversations[convKey("+111", "+999", "flow-1")]
	assert.Equal(t, "welcome", stored.CurrentStateName)
}

func Test_Execute_persistence_failure_is_wrapped(t *testing.T) {
	repo := repoWithFlow(t)
	repo.saveErr = errors.New("disk on fire")
	uc := usecase.NewResolveMessageUseCase(repo)

	_, err := uc.Execute(context.Background(), input("hello"))

	assert.ErrorIs(t, err, usecase.ErrPersistence)
}

func Test_Execute_requires_flow_and_sender(t *testing.T) {
	uc := usecase.NewResolveMessageUseCase(repoWithFlow(t))

	in := input("hello")
	in.FromAddress = ""
	_, err := uc.Execute(context.Background(), in)

	assert.Error(t, err)
}
