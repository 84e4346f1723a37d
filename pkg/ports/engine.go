package ports

import (
	"context"

	"github.com/aretw0/wabaflow/pkg/domain"
)

// InboundHandler processes one inbound event end to end.
// All effects are persisted; the result is informational.
type InboundHandler interface {
	HandleInbound(ctx context.Context, event domain.InboundEvent) (*domain.InboundResult, error)
}
