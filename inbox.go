package wabaflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/wabaflow/internal/logging"
	"github.com/aretw0/wabaflow/pkg/domain"
)

// Transcript is a conversation together with its message log.
type Transcript struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []domain.Message     `json:"messages"`
}

// PublishFlow validates and stores a new flow version.
// A zero Version is assigned the next version for the tenant; an empty Status means published.
func (e *Engine) PublishFlow(ctx context.Context, flow *domain.Flow) error {
	if flow.TenantID <= 0 {
		return fmt.Errorf("%w: tenant_id must be positive", domain.ErrInvalidDefinition)
	}
	if err := flow.Definition.Validate(); err != nil {
		return err
	}
	if flow.Status == "" {
		flow.Status = domain.FlowStatusPublished
	}
	if err := e.store.CreateFlow(ctx, flow); err != nil {
		return fmt.Errorf("failed to store flow: %w", err)
	}

	e.logger.Info("Flow stored",
		logging.TenantID(flow.TenantID),
		logging.FlowID(flow.ID),
		"version", flow.Version,
		"status", flow.Status,
	)
	e.record(ctx, flow.TenantID, domain.AuditFlowCreated, map[string]any{
		"flow_id": flow.ID,
		"name":    flow.Name,
		"version": flow.Version,
		"status":  string(flow.Status),
	})
	return nil
}

// Conversations lists conversations for the inbox, most recently updated first.
func (e *Engine) Conversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error) {
	return e.store.ListConversations(ctx, filter)
}

// Transcript returns a conversation and its messages in creation order.
func (e *Engine) Transcript(ctx context.Context, conversationID int64) (*Transcript, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return &Transcript{Conversation: conv, Messages: msgs}, nil
}

// Assign hands a conversation to a human agent.
//
// Besides recording the agent, Assign moves the conversation to escalated, so
// inbound messages are still logged but the flow no longer advances it. A plain
// agent label that leaves automation running is not offered; callers that want
// the flow to continue must not assign. OnEscalated fires with a nil cause.
func (e *Engine) Assign(ctx context.Context, conversationID int64, agent string) (*domain.Conversation, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, fmt.Errorf("agent is required")
	}

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	err = e.sessions.WithLock(ctx, conv.Key(), func(ctx context.Context) error {
		// Reload under the lock; a walk may have moved it since.
		current, err := e.store.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		current.AssignedAgent = agent
		current.State = domain.StateEscalated
		if err := e.store.Save(ctx, current); err != nil {
			return fmt.Errorf("failed to assign conversation: %w", err)
		}
		conv = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.hooks.OnEscalated != nil {
		e.hooks.OnEscalated(ctx, &domain.EscalationEvent{
			EventBase: domain.EventBase{
				Timestamp:      time.Now(),
				Type:           domain.EventEscalated,
				TenantID:       conv.TenantID,
				ConversationID: conv.ID,
			},
			NodeID: conv.CurrentNode,
		})
	}
	e.record(ctx, conv.TenantID, domain.AuditConversationAssigned, map[string]any{
		"conversation_id": conv.ID,
		"agent":           agent,
	})
	return conv, nil
}

// Reply appends an outbound message written by a human agent.
func (e *Engine) Reply(ctx context.Context, conversationID int64, content string) (*domain.Message, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var msg *domain.Message
	err = e.sessions.WithLock(ctx, conv.Key(), func(ctx context.Context) error {
		msg, err = e.store.Append(ctx, conv.ID, domain.DirectionOutbound, content)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append reply: %w", err)
	}
	return msg, nil
}

func (e *Engine) record(ctx context.Context, tenantID int64, eventType string, data map[string]any) {
	entry := &domain.AuditEntry{TenantID: tenantID, EventType: eventType, Data: data}
	if err := e.store.RecordAudit(ctx, entry); err != nil {
		e.logger.Warn("Failed to record audit entry",
			logging.TenantID(tenantID),
			"event_type", eventType,
			logging.Error(err),
		)
	}
}
