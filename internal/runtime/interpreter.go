package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/wabaflow/internal/logging"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
)

// Input is the inbound text offered to one walk.
type Input struct {
	Text    string
	Present bool
}

// TextInput offers text to the walk.
func TextInput(text string) Input {
	return Input{Text: text, Present: true}
}

// NoInput resumes a walk without new text.
func NoInput() Input {
	return Input{}
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithMaxSteps sets the per-walk node visit ceiling. Values below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(in *Interpreter) {
		if n >= 1 {
			in.maxSteps = n
		}
	}
}

// WithDanglingPolicy sets how unresolvable node references are handled.
func WithDanglingPolicy(p DanglingPolicy) Option {
	return func(in *Interpreter) {
		in.dangling = p
	}
}

// WithQuestionPolicy sets which ask_question nodes may consume inbound text.
func WithQuestionPolicy(p QuestionPolicy) Option {
	return func(in *Interpreter) {
		in.question = p
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(in *Interpreter) {
		in.hooks = hooks
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Interpreter) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// Interpreter is the conversation state machine.
// It owns no storage: every step is handed to the StepCommitter as one atomic write.
type Interpreter struct {
	committer ports.StepCommitter
	maxSteps  int
	dangling  DanglingPolicy
	question  QuestionPolicy
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
}

// NewInterpreter creates an interpreter persisting through committer.
func NewInterpreter(committer ports.StepCommitter, opts ...Option) *Interpreter {
	in := &Interpreter{
		committer: committer,
		maxSteps:  DefaultMaxSteps,
		dangling:  DanglingClose,
		question:  QuestionEarlyAnswer,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// MaxSteps returns the configured ceiling.
func (in *Interpreter) MaxSteps() int {
	return in.maxSteps
}

// walk carries the mutable bookkeeping of one Walk call.
type walk struct {
	conv     *domain.Conversation
	graph    *domain.Graph
	input    Input
	resumeAt string
	out      domain.Outcome
}

// Walk advances conv through graph from its saved position until the flow suspends,
// terminates, or needs an operator. The inbound text is consumed by at most one
// ask_question. conv is updated in place with everything that was persisted.
//
// Dangling references, unknown node types and the step ceiling never surface as errors;
// they are recorded in Outcome.Cause. Only storage failures are returned.
func (in *Interpreter) Walk(ctx context.Context, conv *domain.Conversation, graph *domain.Graph, input Input) (domain.Outcome, error) {
	started := time.Now()
	w := &walk{conv: conv, graph: graph, input: input}

	if err := in.run(ctx, w); err != nil {
		in.logger.Error("Walk aborted by storage failure",
			logging.ConversationID(conv.ID),
			logging.NodeID(conv.CurrentNode),
			logging.Error(err),
		)
		return w.out, err
	}

	in.logger.Debug("Walk stopped",
		logging.ConversationID(conv.ID),
		slog.String("stop", string(w.out.Stop)),
		slog.Int("steps", w.out.Steps),
		logging.State(conv.State),
	)
	if in.hooks.OnWalkStopped != nil {
		in.hooks.OnWalkStopped(ctx, &domain.WalkEvent{
			EventBase: in.base(domain.EventWalkStopped, conv),
			FlowID:    graph.FlowID,
			Outcome:   w.out,
			Duration:  time.Since(started),
		})
	}
	return w.out, nil
}

func (in *Interpreter) run(ctx context.Context, w *walk) error {
	conv := w.conv

	if conv.State == domain.StateEscalated {
		w.out.Stop = domain.StopHandedOff
		return nil
	}

	cur := conv.CurrentNode
	if cur == "" {
		entry, ok := w.graph.Entry()
		if !ok {
			w.out.Stop = domain.StopEmptyFlow
			return nil
		}
		cur = entry
	} else if conv.State == domain.StateWaitingForUser {
		w.resumeAt = cur
	}

	for {
		if w.out.Steps >= in.maxSteps {
			return in.stepLimit(ctx, w, cur)
		}

		node, ok := w.graph.Node(cur)
		if !ok {
			return in.danglingNode(ctx, w, cur)
		}

		w.out.Steps++
		if in.hooks.OnNodeEnter != nil {
			in.hooks.OnNodeEnter(ctx, &domain.NodeEvent{
				EventBase: in.base(domain.EventNodeEnter, conv),
				NodeID:    node.ID,
				NodeType:  node.Type,
				Step:      w.out.Steps,
			})
		}

		switch node.Kind() {
		case domain.KindSendMessage:
			conv.State = domain.StateAutomated
			conv.CurrentNode = node.Next
			if err := in.commit(ctx, w, node.Message); err != nil {
				return err
			}

		case domain.KindAskQuestion:
			if !in.consumes(w, node) {
				conv.State = domain.StateWaitingForUser
				conv.CurrentNode = node.ID
				if err := in.commit(ctx, w, node.Prompt); err != nil {
					return err
				}
				w.out.Stop = domain.StopSuspended
				return nil
			}
			w.input.Present = false
			w.out.Consumed = true
			conv.State = domain.StateAutomated
			conv.CurrentNode = node.Next
			if err := in.commit(ctx, w); err != nil {
				return err
			}

		case domain.KindEnd:
			conv.State = domain.StateClosed
			conv.CurrentNode = ""
			if err := in.commit(ctx, w); err != nil {
				return err
			}
			w.out.Stop = domain.StopClosed
			return nil

		default:
			cause := fmt.Errorf("%w: %q at node %q", domain.ErrUnrecognizedNodeType, node.Type, node.ID)
			return in.escalate(ctx, w, node.ID, cause)
		}

		if conv.CurrentNode == "" {
			w.out.Stop = domain.StopEndOfPath
			return nil
		}
		cur = conv.CurrentNode
	}
}

// consumes reports whether node may take the pending inbound text.
func (in *Interpreter) consumes(w *walk, node domain.Node) bool {
	if !w.input.Present {
		return false
	}
	if in.question == QuestionAskFirst {
		return w.out.Steps == 1 && node.ID == w.resumeAt
	}
	return true
}

func (in *Interpreter) danglingNode(ctx context.Context, w *walk, ref string) error {
	cause := fmt.Errorf("%w: %q", domain.ErrDanglingNode, ref)
	if in.dangling == DanglingEscalate {
		return in.escalate(ctx, w, ref, cause)
	}

	w.conv.State = domain.StateClosed
	w.conv.CurrentNode = ""
	if err := in.commit(ctx, w); err != nil {
		return err
	}
	w.out.Stop = domain.StopClosed
	w.out.Cause = cause
	in.logger.Warn("Dangling node reference, conversation closed",
		logging.ConversationID(w.conv.ID),
		logging.NodeID(ref),
	)
	return nil
}

func (in *Interpreter) stepLimit(ctx context.Context, w *walk, at string) error {
	cause := fmt.Errorf("%w: %d node visits without suspending", domain.ErrStepLimitExceeded, w.out.Steps)
	return in.escalate(ctx, w, at, cause)
}

// escalate parks the conversation on nodeID for an operator.
func (in *Interpreter) escalate(ctx context.Context, w *walk, nodeID string, cause error) error {
	w.conv.State = domain.StateEscalated
	w.conv.CurrentNode = nodeID
	if err := in.commit(ctx, w); err != nil {
		return err
	}
	w.out.Stop = domain.StopEscalated
	w.out.Cause = cause

	in.logger.Warn("Conversation escalated",
		logging.TenantID(w.conv.TenantID),
		logging.ConversationID(w.conv.ID),
		logging.NodeID(nodeID),
		logging.Error(cause),
	)
	if in.hooks.OnEscalated != nil {
		in.hooks.OnEscalated(ctx, &domain.EscalationEvent{
			EventBase: in.base(domain.EventEscalated, w.conv),
			NodeID:    nodeID,
			Cause:     cause,
		})
	}
	return nil
}

func (in *Interpreter) commit(ctx context.Context, w *walk, outbound ...string) error {
	emitted, err := in.committer.CommitStep(ctx, w.conv, outbound...)
	if err != nil {
		return fmt.Errorf("failed to commit step: %w", err)
	}
	w.out.Emitted = append(w.out.Emitted, emitted...)
	if in.hooks.OnMessageEmitted != nil {
		for _, m := range emitted {
			in.hooks.OnMessageEmitted(ctx, &domain.MessageEvent{
				EventBase: in.base(domain.EventMessageEmitted, w.conv),
				Message:   m,
			})
		}
	}
	return nil
}

func (in *Interpreter) base(t domain.EventType, conv *domain.Conversation) domain.EventBase {
	return domain.EventBase{
		Timestamp:      time.Now(),
		Type:           t,
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
	}
}
