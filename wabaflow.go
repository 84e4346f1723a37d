package wabaflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/wabaflow/internal/logging"
	"github.com/aretw0/wabaflow/internal/resolver"
	"github.com/aretw0/wabaflow/internal/runtime"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/aretw0/wabaflow/pkg/session"
)

// DanglingPolicy decides what happens when a conversation points at a node the active flow lacks.
type DanglingPolicy = runtime.DanglingPolicy

// QuestionPolicy decides which ask_question nodes may consume inbound text.
type QuestionPolicy = runtime.QuestionPolicy

const (
	DanglingClose       = runtime.DanglingClose
	DanglingEscalate    = runtime.DanglingEscalate
	QuestionEarlyAnswer = runtime.QuestionEarlyAnswer
	QuestionAskFirst    = runtime.QuestionAskFirst
	DefaultMaxSteps     = runtime.DefaultMaxSteps
)

var _ ports.InboundHandler = (*Engine)(nil)

// Engine is the high-level entry point of the library.
// It wires the resolver, interpreter and session manager over one Store.
type Engine struct {
	store       ports.Store
	resolver    *resolver.Resolver
	interpreter *runtime.Interpreter
	sessions    *session.Manager

	maxSteps  int
	dangling  DanglingPolicy
	question  QuestionPolicy
	locker    ports.DistributedLocker
	lockTTL   time.Duration
	cacheSize int
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	Name      string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxSteps sets the per-walk node visit ceiling.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithDanglingPolicy chooses between closing and escalating on dangling node references.
func WithDanglingPolicy(p DanglingPolicy) Option {
	return func(e *Engine) {
		e.dangling = p
	}
}

// WithQuestionPolicy chooses whether questions may be answered before they are asked.
func WithQuestionPolicy(p QuestionPolicy) Option {
	return func(e *Engine) {
		e.question = p
	}
}

// WithLocker serializes conversations across replicas.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = locker
		e.lockTTL = ttl
	}
}

// WithGraphCacheSize bounds the compiled graph cache of the resolver.
func WithGraphCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// WithName labels log lines with a service name.
func WithName(name string) Option {
	return func(e *Engine) {
		e.Name = name
	}
}

// New initializes an Engine over store.
func New(store ports.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	eng := &Engine{
		store:     store,
		maxSteps:  runtime.DefaultMaxSteps,
		dangling:  runtime.DanglingClose,
		question:  runtime.QuestionEarlyAnswer,
		cacheSize: resolver.DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.maxSteps < 1 {
		return nil, fmt.Errorf("max steps must be at least 1, got %d", eng.maxSteps)
	}
	if _, err := runtime.ParseDanglingPolicy(string(eng.dangling)); err != nil {
		return nil, err
	}
	if _, err := runtime.ParseQuestionPolicy(string(eng.question)); err != nil {
		return nil, err
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.Name != "" {
		eng.logger = eng.logger.With("service", eng.Name)
	}

	eng.resolver = resolver.New(store, resolver.WithCacheSize(eng.cacheSize))
	eng.interpreter = runtime.NewInterpreter(store,
		runtime.WithMaxSteps(eng.maxSteps),
		runtime.WithDanglingPolicy(eng.dangling),
		runtime.WithQuestionPolicy(eng.question),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLogger(eng.logger),
	)

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker), session.WithLockTTL(eng.lockTTL))
	}
	eng.sessions = session.NewManager(store, sessionOpts...)

	return eng, nil
}

// Store returns the underlying store.
func (e *Engine) Store() ports.Store {
	return e.store
}

// HandleInbound processes one inbound event: it finds or creates the conversation,
// logs the inbound text, resolves the tenant's active flow and walks the conversation.
//
// The inbound message is logged even when no flow is active; in that case the error
// wraps domain.ErrNoActiveFlow and the conversation is left untouched. Events that
// carry a DeliveryID are logged once however often they are handled. Dangling
// references, unknown node types and the step ceiling are absorbed into the
// conversation state. Storage failures are returned for the caller to retry.
func (e *Engine) HandleInbound(ctx context.Context, event domain.InboundEvent) (*domain.InboundResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	res := &domain.InboundResult{}
	err := e.sessions.WithConversation(ctx, event.TenantID, event.Participant(),
		func(ctx context.Context, conv *domain.Conversation, created bool) error {
			res.Conversation = conv
			res.Created = created

			inbound, err := e.store.AppendInbound(ctx, conv.ID, event.DeliveryID, event.Text)
			if err != nil {
				return fmt.Errorf("failed to log inbound message: %w", err)
			}
			res.Inbound = inbound

			flow, graph, err := e.resolver.ResolveActive(ctx, event.TenantID)
			if err != nil {
				return err
			}

			out, err := e.interpreter.Walk(ctx, conv, graph, runtime.TextInput(event.Text))
			res.Outcome = out
			if err != nil {
				return err
			}
			e.audit(ctx, conv, flow, out)
			return nil
		})
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, domain.ErrNoActiveFlow) {
			level = slog.LevelWarn
		}
		e.logger.Log(ctx, level, "Inbound event not processed",
			logging.TenantID(event.TenantID),
			slog.String("participant", event.Participant()),
			logging.Error(err),
		)
		return res, err
	}
	return res, nil
}

// audit records absorbed faults and terminal transitions. Failures are logged only.
func (e *Engine) audit(ctx context.Context, conv *domain.Conversation, flow *domain.Flow, out domain.Outcome) {
	var eventType string
	switch {
	case errors.Is(out.Cause, domain.ErrStepLimitExceeded):
		eventType = domain.AuditStepLimitExceeded
	case errors.Is(out.Cause, domain.ErrDanglingNode):
		eventType = domain.AuditDanglingNode
	case out.Stop == domain.StopEscalated:
		eventType = domain.AuditConversationEscalated
	case out.Stop == domain.StopClosed:
		eventType = domain.AuditConversationClosed
	default:
		return
	}

	data := map[string]any{
		"conversation_id": conv.ID,
		"flow_id":         flow.ID,
		"flow_version":    flow.Version,
		"state":           string(conv.State),
		"steps":           out.Steps,
	}
	if conv.CurrentNode != "" {
		data["node_id"] = conv.CurrentNode
	}
	if out.Cause != nil {
		data["cause"] = out.Cause.Error()
	}

	e.record(ctx, conv.TenantID, eventType, data)
}
