package domain

import (
	"fmt"
	"time"
)

// ConversationState is the automation state of a conversation.
type ConversationState string

const (
	// StateAutomated means the engine owns the conversation and is not waiting for anything.
	StateAutomated ConversationState = "automated"
	// StateWaitingForUser means the walk is suspended at an ask_question node.
	StateWaitingForUser ConversationState = "waiting_for_user"
	// StateEscalated is terminal for automation: a human operator must take over.
	StateEscalated ConversationState = "escalated"
	// StateClosed means the flow reached an end (or was abandoned); a new inbound restarts it.
	StateClosed ConversationState = "closed"
)

// Valid reports whether s is one of the known states.
func (s ConversationState) Valid() bool {
	switch s {
	case StateAutomated, StateWaitingForUser, StateEscalated, StateClosed:
		return true
	}
	return false
}

// Conversation is the durable execution state of one participant within a tenant.
type Conversation struct {
	ID          int64             `json:"id"`
	TenantID    int64             `json:"tenant_id"`
	Participant string            `json:"participant"`
	State       ConversationState `json:"state"`

	// CurrentNode is empty when the conversation has not started or has terminated.
	// Otherwise it is a lookup key into the active flow that may no longer resolve.
	CurrentNode string `json:"current_node,omitempty"`

	AssignedAgent string    `json:"assigned_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewConversation returns an unsaved conversation in its initial state.
func NewConversation(tenantID int64, participant string) *Conversation {
	return &Conversation{
		TenantID:    tenantID,
		Participant: participant,
		State:       StateAutomated,
	}
}

// Key identifies the (tenant, participant) serialization point of the conversation.
func (c *Conversation) Key() string {
	return ConversationKey(c.TenantID, c.Participant)
}

// Snapshot returns a copy safe to hand to another goroutine.
func (c *Conversation) Snapshot() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// ConversationKey builds the lock and uniqueness key for a (tenant, participant) pair.
func ConversationKey(tenantID int64, participant string) string {
	return fmt.Sprintf("%d:%s", tenantID, participant)
}

// ConversationFilter narrows inbox listings.
type ConversationFilter struct {
	TenantID int64
	State    ConversationState
	Limit    int
}
