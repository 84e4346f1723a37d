package domain

import "time"

// Audit event types recorded by the engine.
const (
	AuditConversationEscalated = "conversation.escalated"
	AuditConversationClosed    = "conversation.closed"
	AuditConversationAssigned  = "conversation.assigned"
	AuditStepLimitExceeded     = "flow.step_limit_exceeded"
	AuditDanglingNode          = "flow.dangling_node"
	AuditFlowCreated           = "flow.created"
)

// AuditEntry is an append-only operational record scoped to a tenant.
type AuditEntry struct {
	ID        int64          `json:"id"`
	TenantID  int64          `json:"tenant_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
