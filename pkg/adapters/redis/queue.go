package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

var _ ports.Queue = (*Queue)(nil)

// DefaultPollInterval is how long Dequeue waits between polls of an empty queue.
const DefaultPollInterval = 100 * time.Millisecond

// Queue is a reliable Redis queue. Producers LPUSH onto the ready list;
// consumers LMOVE entries into a processing list and LREM them on ack,
// so a worker that dies mid-delivery leaves its entry recoverable.
type Queue struct {
	client backend.UniversalClient
	prefix string
	poll   time.Duration
}

// QueueOption configures the Queue.
type QueueOption func(*Queue)

// WithPollInterval sets the idle polling interval.
func WithPollInterval(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.poll = d
		}
	}
}

// NewQueue creates a queue whose keys start with prefix.
func NewQueue(client backend.UniversalClient, prefix string, opts ...QueueOption) *Queue {
	q := &Queue{
		client: client,
		prefix: prefix,
		poll:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) readyKey() string {
	return q.prefix + "queue:inbound"
}

func (q *Queue) processingKey() string {
	return q.prefix + "queue:inbound:processing"
}

// Enqueue pushes a new delivery for event.
func (q *Queue) Enqueue(ctx context.Context, event domain.InboundEvent) (*ports.Delivery, error) {
	d := &ports.Delivery{
		ID:         uuid.NewString(),
		Event:      event,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, q.client, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (q *Queue) push(ctx context.Context, c backend.Cmdable, d *ports.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	if err := c.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
		return fmt.Errorf("failed to push delivery: %w", err)
	}
	d.Receipt = string(payload)
	return nil
}

// Dequeue moves the oldest ready entry into the processing list.
func (q *Queue) Dequeue(ctx context.Context) (*ports.Delivery, error) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		raw, err := q.client.LMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT").Result()
		switch {
		case err == nil:
			var d ports.Delivery
			if err := json.Unmarshal([]byte(raw), &d); err != nil {
				// Poison entry; drop it so it does not block the queue.
				_ = q.client.LRem(ctx, q.processingKey(), 1, raw).Err()
				return nil, fmt.Errorf("failed to unmarshal delivery: %w", err)
			}
			d.Receipt = raw
			return &d, nil
		case errors.Is(err, backend.Nil):
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to dequeue: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ack removes the delivery from the processing list.
func (q *Queue) Ack(ctx context.Context, d *ports.Delivery) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, d.Receipt).Err(); err != nil {
		return fmt.Errorf("failed to ack delivery %s: %w", d.ID, err)
	}
	return nil
}

// Retry atomically re-enqueues the event with one more attempt and acks d.
func (q *Queue) Retry(ctx context.Context, d *ports.Delivery) error {
	next := *d
	next.Attempts++
	_, err := q.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, d.Receipt)
		return q.push(ctx, pipe, &next)
	})
	if err != nil {
		return fmt.Errorf("failed to retry delivery %s: %w", d.ID, err)
	}
	return nil
}

// Len returns the number of ready entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Pending returns the number of dequeued but unacknowledged entries.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.processingKey()).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Recover moves every unacknowledged entry back to the ready list.
// Call it on startup, before any consumer of this queue is running.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, backend.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover deliveries: %w", err)
		}
		moved++
	}
}
