package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/wabaflow/internal/logging"
	"github.com/aretw0/wabaflow/pkg/domain"
)

// LoggingHooks logs node visits at Debug, walk stops at Info and escalations at Warn.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_enter",
				logging.ConversationID(e.ConversationID),
				logging.NodeID(e.NodeID),
				"type", e.NodeType,
				"step", e.Step,
			)
		},
		OnWalkStopped: func(ctx context.Context, e *domain.WalkEvent) {
			attrs := []any{
				logging.TenantID(e.TenantID),
				logging.ConversationID(e.ConversationID),
				logging.FlowID(e.FlowID),
				"stop", e.Outcome.Stop,
				"steps", e.Outcome.Steps,
				"emitted", len(e.Outcome.Emitted),
				"duration", e.Duration,
			}
			if e.Outcome.Cause != nil {
				attrs = append(attrs, logging.Error(e.Outcome.Cause))
			}
			logger.InfoContext(ctx, "walk_stopped", attrs...)
		},
		OnEscalated: func(ctx context.Context, e *domain.EscalationEvent) {
			logger.WarnContext(ctx, "escalated",
				logging.TenantID(e.TenantID),
				logging.ConversationID(e.ConversationID),
				logging.NodeID(e.NodeID),
				"cause", EscalationCause(e.Cause),
			)
		},
	}
}
