package ports

import (
	"context"

	"github.com/aretw0/wabaflow/pkg/domain"
)

// TenantStore persists tenants.
type TenantStore interface {
	CreateTenant(ctx context.Context, name string) (*domain.Tenant, error)
	// GetTenant returns domain.ErrTenantNotFound if the tenant does not exist.
	GetTenant(ctx context.Context, id int64) (*domain.Tenant, error)
	ListTenants(ctx context.Context) ([]domain.Tenant, error)
}

// FlowStore persists flow versions and resolves the active one.
type FlowStore interface {
	// CreateFlow assigns ID and CreatedAt. A zero Version becomes max(version)+1 for the tenant.
	CreateFlow(ctx context.Context, flow *domain.Flow) error

	// GetFlow returns domain.ErrFlowNotFound if the flow does not exist.
	GetFlow(ctx context.Context, id int64) (*domain.Flow, error)

	// ListFlows returns the tenant's flows ordered by version, highest first.
	ListFlows(ctx context.Context, tenantID int64) ([]domain.Flow, error)

	// ActiveFlow returns the published flow with the highest version.
	// Returns domain.ErrNoActiveFlow if there is none.
	ActiveFlow(ctx context.Context, tenantID int64) (*domain.Flow, error)
}

// ConversationStore owns conversation records.
type ConversationStore interface {
	// GetOrCreate returns the conversation of a (tenant, participant) pair, creating it
	// in the automated state with no current node if needed. Concurrent callers for the
	// same pair observe the same conversation. The bool reports whether it was created.
	GetOrCreate(ctx context.Context, tenantID int64, participant string) (*domain.Conversation, bool, error)

	// Save persists state, current node and assigned agent, and refreshes UpdatedAt.
	// Returns domain.ErrConversationNotFound if the conversation does not exist.
	Save(ctx context.Context, conv *domain.Conversation) error

	// GetConversation returns domain.ErrConversationNotFound if the conversation does not exist.
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)

	// ListConversations returns conversations ordered by UpdatedAt, most recent first.
	ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error)
}

// MessageLog is the append-only transcript.
type MessageLog interface {
	// Append records a message. It is visible to subsequent reads immediately.
	Append(ctx context.Context, conversationID int64, direction domain.Direction, content string) (*domain.Message, error)

	// AppendInbound records an inbound message once per delivery. When deliveryID is
	// not empty and already logged for the conversation, the existing message is
	// returned and nothing is written. An empty deliveryID behaves like Append.
	AppendInbound(ctx context.Context, conversationID int64, deliveryID, content string) (*domain.Message, error)

	// ListMessages returns the transcript in creation order.
	ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error)
}

// StepCommitter persists one interpreter step atomically.
type StepCommitter interface {
	// CommitStep saves conv and appends the outbound messages in a single atomic write.
	// Either everything is visible afterwards or nothing is.
	CommitStep(ctx context.Context, conv *domain.Conversation, outbound ...string) ([]domain.Message, error)
}

// AuditLog records operational events per tenant.
type AuditLog interface {
	RecordAudit(ctx context.Context, entry *domain.AuditEntry) error
	// ListAudit returns the most recent entries first. A non-positive limit means no limit.
	ListAudit(ctx context.Context, tenantID int64, limit int) ([]domain.AuditEntry, error)
}

// Store aggregates every persistence port a backend provides.
type Store interface {
	TenantStore
	FlowStore
	ConversationStore
	MessageLog
	StepCommitter
	AuditLog
	Close() error
}
