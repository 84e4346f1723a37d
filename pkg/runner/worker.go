package runner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/wabaflow/internal/logging"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/cespare/xxhash/v2"
)

// Defaults for the worker options.
const (
	DefaultConcurrency  = 4
	DefaultMaxAttempts  = 5
	DefaultRetryBackoff = 2 * time.Second
	DefaultErrorBackoff = 200 * time.Millisecond
)

// Delivery outcomes reported to an Observer.
const (
	OutcomeProcessed = "processed"
	OutcomeRetried   = "retried"
	OutcomeDropped   = "dropped"
	OutcomeRejected  = "rejected"
)

// Observer receives one outcome per handled delivery.
type Observer interface {
	ObserveInbound(outcome string)
}

// Worker consumes inbound deliveries and hands each one to an InboundHandler.
// Delivery is at least once: a delivery is acknowledged only after the handler
// returned, and transient failures go back to the queue with a growing delay.
type Worker struct {
	queue   ports.Queue
	handler ports.InboundHandler

	concurrency  int
	maxAttempts  int
	backoff      time.Duration
	errorBackoff time.Duration
	maxInput     int
	observer     Observer
	logger       *slog.Logger
}

// Option configures the Worker.
type Option func(*Worker)

// WithConcurrency sets the number of lanes processing deliveries in parallel.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithMaxAttempts sets how many times a delivery is tried before it is dropped.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay before a failed delivery is retried.
// The delay grows linearly with the attempt number.
func WithRetryBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.backoff = d
		}
	}
}

// WithErrorBackoff sets the pause after a queue error.
func WithErrorBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.errorBackoff = d
		}
	}
}

// WithMaxInputSize sets the inbound text size limit.
func WithMaxInputSize(n int) Option {
	return func(w *Worker) {
		w.maxInput = n
	}
}

// WithObserver reports delivery outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(w *Worker) {
		w.observer = o
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a Worker reading from queue.
func NewWorker(queue ports.Queue, handler ports.InboundHandler, opts ...Option) *Worker {
	w := &Worker{
		queue:        queue,
		handler:      handler,
		concurrency:  DefaultConcurrency,
		maxAttempts:  DefaultMaxAttempts,
		backoff:      DefaultRetryBackoff,
		errorBackoff: DefaultErrorBackoff,
		maxInput:     DefaultMaxInputSize,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes deliveries until ctx is canceled. In-flight deliveries finish first.
//
// One loop dequeues and routes every delivery to one of the concurrency lanes by
// its conversation key. A lane handles its deliveries one at a time, so events of
// the same participant are walked in the order they were dequeued.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.concurrency, "max_attempts", w.maxAttempts)

	lanes := make([]chan *ports.Delivery, w.concurrency)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan *ports.Delivery, laneBuffer)
		wg.Add(1)
		go func(lane <-chan *ports.Delivery) {
			defer wg.Done()
			for d := range lane {
				// A delivery taken off the queue is settled even during shutdown.
				if err := w.Process(context.WithoutCancel(ctx), d); err != nil {
					w.logger.Error("failed to settle delivery", "delivery_id", d.ID, logging.Error(err))
				}
			}
		}(lanes[i])
	}

	w.dispatch(ctx, lanes)
	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// laneBuffer bounds how many dequeued deliveries may wait on a busy lane.
const laneBuffer = 1

func (w *Worker) dispatch(ctx context.Context, lanes []chan *ports.Delivery) {
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", logging.Error(err))
			if !sleep(ctx, w.errorBackoff) {
				return
			}
			continue
		}
		// Blocks while the lane is busy.
		lanes[LaneFor(d.Event, len(lanes))] <- d
	}
}

// LaneFor maps an event to one of n lanes by its conversation key.
// Events that land in the same conversation always share a lane.
func LaneFor(event domain.InboundEvent, n int) int {
	if n <= 1 {
		return 0
	}
	event.FromNumber = strings.TrimSpace(event.FromNumber)
	key := domain.ConversationKey(event.TenantID, event.Participant())
	return int(xxhash.Sum64String(key) % uint64(n))
}

// Process handles one delivery and acknowledges or retries it.
// The returned error concerns the queue only; handler failures are settled here.
func (w *Worker) Process(ctx context.Context, d *ports.Delivery) error {
	log := w.logger.With(
		"delivery_id", d.ID,
		"attempt", d.Attempts+1,
		logging.TenantID(d.Event.TenantID),
	)

	event, err := SanitizeEvent(d.Event, w.maxInput)
	if err != nil {
		log.Warn("inbound event rejected", logging.Error(err))
		w.observe(OutcomeRejected)
		return w.queue.Ack(ctx, d)
	}

	if event.DeliveryID == "" {
		event.DeliveryID = d.ID
	}

	res, err := w.handler.HandleInbound(ctx, event)
	switch {
	case err == nil:
		if res != nil && res.Conversation != nil {
			log.Debug("inbound event processed",
				logging.ConversationID(res.Conversation.ID),
				"stop", res.Outcome.Stop,
			)
		}
		w.observe(OutcomeProcessed)
		return w.queue.Ack(ctx, d)

	case !Retryable(err):
		log.Warn("inbound event rejected", logging.Error(err))
		w.observe(OutcomeRejected)
		return w.queue.Ack(ctx, d)

	case d.Attempts+1 >= w.maxAttempts:
		log.Error("inbound event dropped after max attempts", logging.Error(err))
		w.observe(OutcomeDropped)
		return w.queue.Ack(ctx, d)
	}

	delay := w.backoff * time.Duration(d.Attempts+1)
	log.Warn("inbound event failed, retrying", "delay", delay, logging.Error(err))
	sleep(ctx, delay)
	w.observe(OutcomeRetried)
	return w.queue.Retry(ctx, d)
}

// Retryable reports whether a HandleInbound error may succeed on redelivery.
// Malformed events never will; a missing flow or a storage failure might.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, domain.ErrInvalidEvent)
}

func (w *Worker) observe(outcome string) {
	if w.observer != nil {
		w.observer.ObserveInbound(outcome)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
