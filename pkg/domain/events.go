package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter      EventType = "node_enter"
	EventMessageEmitted EventType = "message_emitted"
	EventWalkStopped    EventType = "walk_stopped"
	EventEscalated      EventType = "escalated"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp      time.Time `json:"timestamp"`
	Type           EventType `json:"type"`
	TenantID       int64     `json:"tenant_id"`
	ConversationID int64     `json:"conversation_id"`
}

// NodeEvent is fired before a node is executed.
type NodeEvent struct {
	EventBase
	NodeID   string   `json:"node_id"`
	NodeType NodeType `json:"node_type"`
	Step     int      `json:"step"`
}

// MessageEvent is fired after an outbound message has been committed.
type MessageEvent struct {
	EventBase
	Message Message `json:"message"`
}

// WalkEvent is fired once per walk, after the last commit.
type WalkEvent struct {
	EventBase
	FlowID   int64         `json:"flow_id"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
}

// EscalationEvent is fired when automation gives a conversation up.
type EscalationEvent struct {
	EventBase
	NodeID string `json:"node_id,omitempty"`
	Cause  error  `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Hooks run synchronously on the walking goroutine and must not block.
type LifecycleHooks struct {
	OnNodeEnter      func(context.Context, *NodeEvent)
	OnMessageEmitted func(context.Context, *MessageEvent)
	OnWalkStopped    func(context.Context, *WalkEvent)
	OnEscalated      func(context.Context, *EscalationEvent)
}

// ComposeHooks fans each callback out to every non-nil hook in order.
func ComposeHooks(all ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range all {
		h := h
		if h.OnNodeEnter != nil {
			prev := out.OnNodeEnter
			out.OnNodeEnter = func(ctx context.Context, e *NodeEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnNodeEnter(ctx, e)
			}
		}
		if h.OnMessageEmitted != nil {
			prev := out.OnMessageEmitted
			out.OnMessageEmitted = func(ctx context.Context, e *MessageEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnMessageEmitted(ctx, e)
			}
		}
		if h.OnWalkStopped != nil {
			prev := out.OnWalkStopped
			out.OnWalkStopped = func(ctx context.Context, e *WalkEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnWalkStopped(ctx, e)
			}
		}
		if h.OnEscalated != nil {
			prev := out.OnEscalated
			out.OnEscalated = func(ctx context.Context, e *EscalationEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnEscalated(ctx, e)
			}
		}
	}
	return out
}
