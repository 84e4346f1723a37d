package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/google/uuid"
)

var _ ports.Queue = (*Queue)(nil)

// Queue is a ports.Queue backed by a buffered channel.
// Deliveries are lost on restart; use the Redis queue for durability.
type Queue struct {
	ch chan ports.Delivery

	mu      sync.Mutex
	pending map[string]ports.Delivery
}

// NewQueue creates a new queue with the given capacity (1024 when non-positive).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		ch:      make(chan ports.Delivery, capacity),
		pending: make(map[string]ports.Delivery),
	}
}

// Enqueue blocks while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, event domain.InboundEvent) (*ports.Delivery, error) {
	d := ports.Delivery{
		ID:         uuid.NewString(),
		Event:      event,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (q *Queue) push(ctx context.Context, d ports.Delivery) error {
	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Dequeue(ctx context.Context) (*ports.Delivery, error) {
	select {
	case d := <-q.ch:
		d.Receipt = d.ID
		q.mu.Lock()
		q.pending[d.Receipt] = d
		q.mu.Unlock()
		return &d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) Ack(ctx context.Context, d *ports.Delivery) error {
	q.mu.Lock()
	delete(q.pending, d.Receipt)
	q.mu.Unlock()
	return nil
}

func (q *Queue) Retry(ctx context.Context, d *ports.Delivery) error {
	next := *d
	next.Attempts++
	next.Receipt = ""
	if err := q.push(ctx, next); err != nil {
		return err
	}
	return q.Ack(ctx, d)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	return len(q.ch), nil
}

// Pending returns the number of dequeued deliveries not yet acknowledged.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
