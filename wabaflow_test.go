package wabaflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aretw0/wabaflow"
	"github.com/aretw0/wabaflow/pkg/adapters/memory"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	eng   *wabaflow.Engine
}

func newHarness(t *testing.T, opts ...wabaflow.Option) *harness {
	t.Helper()
	store := memory.NewStore()
	eng, err := wabaflow.New(store, opts...)
	require.NoError(t, err)
	return &harness{t: t, ctx: context.Background(), store: store, eng: eng}
}

func (h *harness) publish(tenantID int64, b interface {
	Build() (domain.Definition, error)
}) *domain.Flow {
	h.t.Helper()
	def, err := b.Build()
	require.NoError(h.t, err)
	f := &domain.Flow{TenantID: tenantID, Name: "flow", Definition: def}
	require.NoError(h.t, h.eng.PublishFlow(h.ctx, f))
	return f
}

func (h *harness) messages(convID int64) []domain.Message {
	h.t.Helper()
	msgs, err := h.store.ListMessages(h.ctx, convID)
	require.NoError(h.t, err)
	return msgs
}

func summary(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fmt.Sprintf("%s:%s", m.Direction, m.Content))
	}
	return out
}

func TestHandleInbound_NewParticipantGreetedAndAnswered(t *testing.T) {
	h := newHarness(t)
	h.publish(1, dsl.New().
		Send("greet", "Hi").Go("name").
		Ask("name", "Name?").Go("done").
		End("done"))

	res, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+5511", Text: "hello"})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, "hello", res.Inbound.Content)
	assert.Equal(t, domain.StopClosed, res.Outcome.Stop)
	assert.Equal(t, domain.StateClosed, res.Conversation.State)
	assert.Equal(t, []string{"inbound:hello", "outbound:Hi"}, summary(h.messages(res.Conversation.ID)))
}

func TestHandleInbound_QuestionAnsweredBeforeAsked(t *testing.T) {
	h := newHarness(t)
	h.publish(1, dsl.New().Ask("name", "Name?").Go("done").End("done"))

	res, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+5511", Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, domain.StateClosed, res.Conversation.State)
	assert.Equal(t, []string{"inbound:hi"}, summary(h.messages(res.Conversation.ID)))
}

func TestHandleInbound_AnswerAdvancesWaitingConversation(t *testing.T) {
	h := newHarness(t, wabaflow.WithQuestionPolicy(wabaflow.QuestionAskFirst))
	h.publish(1, dsl.New().
		Ask("name", "Name?").Go("thanks").
		Send("thanks", "Thanks!").Go("done").
		End("done"))

	first, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+5511", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateWaitingForUser, first.Conversation.State)
	assert.Equal(t, "name", first.Conversation.CurrentNode)

	second, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+5511", Text: "Bob"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, domain.StateClosed, second.Conversation.State)

	assert.Equal(t,
		[]string{"inbound:hi", "outbound:Name?", "inbound:Bob", "outbound:Thanks!"},
		summary(h.messages(second.Conversation.ID)),
	)
}

func TestHandleInbound_AnswerAdvancesWaitingConversation_EarlyAnswer(t *testing.T) {
	h := newHarness(t)
	h.publish(1, dsl.New().
		Send("greet", "Hi").Go("name").
		Ask("name", "Name?").Go("city").
		Ask("city", "City?").Go("done").
		End("done"))

	// The first text answers "name" before it is asked; "city" then waits.
	first, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+5511", Text: "hi"})
	require.NoError(t, err)
	assert.True(t, first.Outcome.Consumed)
	assert.Equal(t, domain.StopSuspended, first.Outcome.Stop)
	assert.Equal(t, domain.StateWaitingForUser, first.Conversation.State)
	assert.Equal(t, "city", first.Conversation.CurrentNode)

	second, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+5511", Text: "Bob"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.True(t, second.Outcome.Consumed)
	assert.Equal(t, domain.StopClosed, second.Outcome.Stop)
	assert.Equal(t, domain.StateClosed, second.Conversation.State)

	assert.Equal(t,
		[]string{"inbound:hi", "outbound:Hi", "outbound:City?", "inbound:Bob"},
		summary(h.messages(second.Conversation.ID)),
	)
}

func TestHandleInbound_RedeliveryLogsInboundOnce(t *testing.T) {
	h := newHarness(t)
	event := domain.InboundEvent{TenantID: 1, FromNumber: "+5511", Text: "hello", DeliveryID: "d-42"}

	for i := 0; i < 2; i++ {
		_, err := h.eng.HandleInbound(h.ctx, event)
		require.ErrorIs(t, err, domain.ErrNoActiveFlow)
	}

	h.publish(1, dsl.New().Send("greet", "Hi").Go("done").End("done"))
	res, err := h.eng.HandleInbound(h.ctx, event)
	require.NoError(t, err)

	assert.Equal(t, []string{"inbound:hello", "outbound:Hi"}, summary(h.messages(res.Conversation.ID)))
}

func TestHandleInbound_NoActiveFlow(t *testing.T) {
	h := newHarness(t)
	h.publish(1, dsl.New().Ask("name", "Name?").Go("done").End("done"))

	// Park the conversation somewhere recognizable.
	conv, _, err := h.store.GetOrCreate(h.ctx, 2, "+5511")
	require.NoError(t, err)
	conv.State = domain.StateWaitingForUser
	conv.CurrentNode = "name"
	require.NoError(t, h.store.Save(h.ctx, conv))

	res, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 2, FromNumber: "+5511", Text: "anyone?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoActiveFlow)
	require.NotNil(t, res)
	require.NotNil(t, res.Inbound)

	assert.Equal(t, []string{"inbound:anyone?"}, summary(h.messages(conv.ID)))

	stored, err := h.store.GetConversation(h.ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateWaitingForUser, stored.State)
	assert.Equal(t, "name", stored.CurrentNode)
}

func TestHandleInbound_NoActiveFlowOnlyDrafts(t *testing.T) {
	h := newHarness(t)
	draft := &domain.Flow{TenantID: 3, Name: "wip", Status: domain.FlowStatusDraft,
		Definition: dsl.New().Send("greet", "Hi").MustBuild()}
	require.NoError(t, h.eng.PublishFlow(h.ctx, draft))

	res, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 3, FromNumber: "+1", Text: "x"})
	assert.ErrorIs(t, err, domain.ErrNoActiveFlow)
	assert.Equal(t, domain.StateAutomated, res.Conversation.State)
	assert.Empty(t, res.Conversation.CurrentNode)
}

func TestHandleInbound_UnknownParticipant(t *testing.T) {
	h := newHarness(t)
	h.publish(1, dsl.New().Send("greet", "Hi"))

	res, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownParticipant, res.Conversation.Participant)
}

func TestHandleInbound_InvalidEvent(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{FromNumber: "+1", Text: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestHandleInbound_StepLimitIsAudited(t *testing.T) {
	h := newHarness(t, wabaflow.WithMaxSteps(5))
	h.publish(1, dsl.New().Send("a", "ping").Go("b").Send("b", "pong").Go("a"))

	res, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateEscalated, res.Conversation.State)
	assert.ErrorIs(t, res.Outcome.Cause, domain.ErrStepLimitExceeded)

	entries, err := h.store.ListAudit(h.ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditStepLimitExceeded, entries[0].EventType)
	assert.Equal(t, res.Conversation.ID, entries[0].Data["conversation_id"])

	// Escalation is terminal for automation.
	again, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+1", Text: "hello?"})
	require.NoError(t, err)
	assert.Equal(t, domain.StopHandedOff, again.Outcome.Stop)
	msgs := h.messages(res.Conversation.ID)
	assert.Equal(t, "hello?", msgs[len(msgs)-1].Content)
}

func TestHandleInbound_DanglingPolicies(t *testing.T) {
	for _, tt := range []struct {
		policy wabaflow.DanglingPolicy
		want   domain.ConversationState
	}{
		{wabaflow.DanglingClose, domain.StateClosed},
		{wabaflow.DanglingEscalate, domain.StateEscalated},
	} {
		t.Run(string(tt.policy), func(t *testing.T) {
			h := newHarness(t, wabaflow.WithDanglingPolicy(tt.policy))
			h.publish(1, dsl.New().Send("greet", "Hi").Go("gone"))

			res, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+1", Text: "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Conversation.State)
			assert.ErrorIs(t, res.Outcome.Cause, domain.ErrDanglingNode)
		})
	}
}

func TestHandleInbound_ConcurrentEventsShareOneConversation(t *testing.T) {
	h := newHarness(t)
	h.publish(1, dsl.New().
		Ask("q1", "Q1?").Go("q2").
		Ask("q2", "Q2?").Go("q1"))

	const events = 20
	var wg sync.WaitGroup
	errs := make([]error, events)
	for i := 0; i < events; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+race", Text: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	convs, err := h.store.ListConversations(h.ctx, domain.ConversationFilter{TenantID: 1})
	require.NoError(t, err)
	require.Len(t, convs, 1)

	// Every walk consumed its text and then prompted once, so the transcript
	// strictly alternates inbound and outbound.
	msgs := h.messages(convs[0].ID)
	require.Len(t, msgs, events*2)
	for i, m := range msgs {
		want := domain.DirectionInbound
		if i%2 == 1 {
			want = domain.DirectionOutbound
		}
		assert.Equal(t, want, m.Direction, "message %d", i)
	}
}

func TestHandleInbound_HooksObserveWalk(t *testing.T) {
	var stops []domain.StopReason
	h := newHarness(t, wabaflow.WithLifecycleHooks(domain.LifecycleHooks{
		OnWalkStopped: func(_ context.Context, e *domain.WalkEvent) { stops = append(stops, e.Outcome.Stop) },
	}))
	h.publish(1, dsl.New().Send("greet", "Hi").Go("done").End("done"))

	_, err := h.eng.HandleInbound(h.ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, []domain.StopReason{domain.StopClosed}, stops)
}

type failingAppendStore struct {
	*memory.Store
	err error
}

func (s *failingAppendStore) AppendInbound(context.Context, int64, string, string) (*domain.Message, error) {
	return nil, s.err
}

func TestHandleInbound_StorageFailurePropagates(t *testing.T) {
	boom := errors.New("connection reset")
	store := &failingAppendStore{Store: memory.NewStore(), err: boom}
	eng, err := wabaflow.New(store)
	require.NoError(t, err)

	_, err = eng.HandleInbound(context.Background(), domain.InboundEvent{TenantID: 1, FromNumber: "+1", Text: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestNew_ValidatesOptions(t *testing.T) {
	_, err := wabaflow.New(nil)
	assert.Error(t, err)

	_, err = wabaflow.New(memory.NewStore(), wabaflow.WithMaxSteps(0))
	assert.Error(t, err)

	_, err = wabaflow.New(memory.NewStore(), wabaflow.WithDanglingPolicy("shrug"))
	assert.Error(t, err)

	_, err = wabaflow.New(memory.NewStore(), wabaflow.WithQuestionPolicy("maybe"))
	assert.Error(t, err)
}
