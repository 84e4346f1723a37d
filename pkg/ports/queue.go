package ports

import (
	"context"
	"time"

	"github.com/aretw0/wabaflow/pkg/domain"
)

// Delivery is one attempt at delivering an inbound event to a worker.
type Delivery struct {
	ID         string              `json:"id"`
	Event      domain.InboundEvent `json:"event"`
	Attempts   int                 `json:"attempts"`
	EnqueuedAt time.Time           `json:"enqueued_at"`

	// Receipt is an adapter-private handle used to acknowledge the delivery.
	Receipt string `json:"-"`
}

// Queue delivers inbound events at least once.
type Queue interface {
	Enqueue(ctx context.Context, event domain.InboundEvent) (*Delivery, error)

	// Dequeue blocks until a delivery is available or ctx is done.
	// The delivery stays pending until it is acknowledged or retried.
	Dequeue(ctx context.Context) (*Delivery, error)

	// Ack removes a delivery for good.
	Ack(ctx context.Context, d *Delivery) error

	// Retry puts the event back with Attempts incremented and acknowledges d.
	Retry(ctx context.Context, d *Delivery) error

	// Len returns the number of deliveries waiting to be dequeued.
	Len(ctx context.Context) (int, error)
}
