package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Domain-level errors for flow behaviors
var (
	ErrFlowNotFound        = errors.New("flow: flow not found or inactive")
	ErrInvalidFlow         = errors.New("flow: invalid flow definition")
	ErrConversationCorrupt = errors.New("flow: conversation session references an unknown state")
)

// Option is one selectable branch out of a State. MatchInputs are compared
// case-insensitively against the normalized user text.
type Option struct {
	MatchInputs   []string `json:"matchInputs"`
	Event         string   `json:"event,omitempty"`
	NextStateName string   `json:"nextStateName"`
}

// State is one node of the conversation state machine. An empty Options list
// is a valid terminal state: every input falls through to no-match.
type State struct {
	Message string   `json:"message"`
	Options []Option `json:"options,omitempty"`
}

// Flow is a tenant-authored finite state machine describing a scripted
// conversation. States is keyed by state name.
type Flow struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenantId"`
	Name             string           `json:"name"`
	InitialStateName string           `json:"initialStateName"`
	States           map[string]State `json:"states"`
	Active           bool             `json:"active"`
}

// Validate enforces the write-time invariant: the initial state and every
// nextStateName referenced by any option must be a key of States. Traversal
// deliberately does not re-check this; a dangling reference at runtime is
// treated as no-match instead of failing the conversation.
func (f *Flow) Validate() error {
	if f.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", ErrInvalidFlow)
	}
	if len(f.States) == 0 {
		return fmt.Errorf("%w: at least one state is required", ErrInvalidFlow)
	}
	if _, ok := f.States[f.InitialStateName]; !ok {
		return fmt.Errorf("%w: initial state %q is not defined", ErrInvalidFlow, f.InitialStateName)
	}

	for name, state := range f.States {
		if strings.TrimSpace(state.Message) == "" {
			return fmt.Errorf("%w: state %q has an empty message", ErrInvalidFlow, name)
		}
		for i, opt := range state.Options {
			inputs := lo.Filter(opt.MatchInputs, func(s string, _ int) bool {
				return strings.TrimSpace(s) != ""
			})
			if len(inputs) == 0 {
				return fmt.Errorf("%w: state %q option %d has no match inputs", ErrInvalidFlow, name, i)
			}
			if opt.NextStateName == "" {
				return fmt.Errorf("%w: state %q option %d has no next state", ErrInvalidFlow, name, i)
			}
			if _, ok := f.States[opt.NextStateName]; !ok {
				return fmt.Errorf("%w: state %q option %d references undefined state %q",
					ErrInvalidFlow, name, i, opt.NextStateName)
			}
		}
	}
	return nil
}

// Normalize prepares user input for matching: whitespace trimmed, lowercased.
func Normalize(userText string) string {
	return strings.ToLower(strings.TrimSpace(userText))
}

// MatchOption scans the state's options in declared order and returns the
// first one whose match inputs hit the normalized text. First match wins;
// this is a deliberate first-match, not best-match, policy.
//
// An input hits when the normalized text equals it, contains it, or is
// contained by it (case-insensitive). The bidirectional containment is kept
// for compatibility with existing tenant flows even though it can cross-match
// short inputs.
func (s State) MatchOption(userText string) (Option, bool) {
	text := Normalize(userText)
	if text == "" {
		return Option{}, false
	}
	for _, opt := range s.Options {
		for _, raw := range opt.MatchInputs {
			in := Normalize(raw)
			if in == "" {
				continue
			}
			if text == in || strings.Contains(text, in) || strings.Contains(in, text) {
				return opt, true
			}
		}
	}
	return Option{}, false
}
