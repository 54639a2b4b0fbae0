package flow

import "time"

// ConversationSession tracks one counterpart's progress through a flow.
// Unique by (FromAddress, ToAddress, FlowID). Created lazily on the first
// inbound message for the triple and mutated only by the engine's transition
// step; idle sessions persist until explicitly purged.
type ConversationSession struct {
	ID               string
	TenantID         string
	FromAddress      string
	ToAddress        string
	FlowID           string
	CurrentStateName string
	LastActivityAt   time.Time
}
