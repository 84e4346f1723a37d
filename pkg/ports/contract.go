package ports

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a Store implementation
// adheres to the defined interface contract. Every subtest works in its own tenant,
// so the same store can be shared across runs.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	newTenant := func(t *testing.T) *domain.Tenant {
		tenant, err := store.CreateTenant(ctx, "contract-"+t.Name())
		require.NoError(t, err)
		require.NotZero(t, tenant.ID)
		return tenant
	}

	t.Run("Tenants", func(t *testing.T) {
		tenant := newTenant(t)

		loaded, err := store.GetTenant(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, tenant.Name, loaded.Name)
		assert.False(t, loaded.CreatedAt.IsZero())

		_, err = store.GetTenant(ctx, tenant.ID+1_000_000)
		assert.ErrorIs(t, err, domain.ErrTenantNotFound)

		all, err := store.ListTenants(ctx)
		require.NoError(t, err)
		var ids []int64
		for _, tn := range all {
			ids = append(ids, tn.ID)
		}
		assert.Contains(t, ids, tenant.ID)
	})

	t.Run("Flow Versions", func(t *testing.T) {
		tenant := newTenant(t)
		def := domain.Definition{Nodes: []domain.Node{
			{ID: "greet", Type: domain.NodeTypeSendMessage, Message: "Hi", Next: "name"},
			{ID: "name", Type: domain.NodeTypeAskQuestion, Prompt: "Name?", Next: "done"},
			{ID: "done", Type: domain.NodeTypeEnd},
		}}

		first := &domain.Flow{TenantID: tenant.ID, Name: "onboarding", Status: domain.FlowStatusPublished, Definition: def}
		require.NoError(t, store.CreateFlow(ctx, first))
		assert.NotZero(t, first.ID)
		assert.Equal(t, 1, first.Version)

		second := &domain.Flow{TenantID: tenant.ID, Name: "onboarding", Status: domain.FlowStatusDraft, Definition: def}
		require.NoError(t, store.CreateFlow(ctx, second))
		assert.Equal(t, 2, second.Version)

		loaded, err := store.GetFlow(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, def, loaded.Definition, "definition must round-trip in authoring order")

		_, err = store.GetFlow(ctx, second.ID+1_000_000)
		assert.ErrorIs(t, err, domain.ErrFlowNotFound)

		list, err := store.ListFlows(ctx, tenant.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, 2, list[0].Version)
		assert.Equal(t, 1, list[1].Version)
	})

	t.Run("Active Flow", func(t *testing.T) {
		tenant := newTenant(t)

		_, err := store.ActiveFlow(ctx, tenant.ID)
		assert.ErrorIs(t, err, domain.ErrNoActiveFlow)

		for _, f := range []domain.Flow{
			{Version: 1, Status: domain.FlowStatusPublished},
			{Version: 5, Status: domain.FlowStatusDraft},
			{Version: 3, Status: domain.FlowStatusPublished},
			{Version: 4, Status: domain.FlowStatusArchived},
		} {
			f := f
			f.TenantID = tenant.ID
			f.Name = "v"
			require.NoError(t, store.CreateFlow(ctx, &f))
		}

		active, err := store.ActiveFlow(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, active.Version)
		assert.Equal(t, domain.FlowStatusPublished, active.Status)
	})

	t.Run("Get Or Create", func(t *testing.T) {
		tenant := newTenant(t)
		other := newTenant(t)

		conv, created, err := store.GetOrCreate(ctx, tenant.ID, "+100")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, conv.ID)
		assert.Equal(t, domain.StateAutomated, conv.State)
		assert.Empty(t, conv.CurrentNode)

		again, created, err := store.GetOrCreate(ctx, tenant.ID, "+100")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, conv.ID, again.ID)

		diffParticipant, _, err := store.GetOrCreate(ctx, tenant.ID, "+200")
		require.NoError(t, err)
		assert.NotEqual(t, conv.ID, diffParticipant.ID)

		diffTenant, _, err := store.GetOrCreate(ctx, other.ID, "+100")
		require.NoError(t, err)
		assert.NotEqual(t, conv.ID, diffTenant.ID)
	})

	t.Run("Get Or Create Concurrently", func(t *testing.T) {
		tenant := newTenant(t)

		const workers = 16
		ids := make([]int64, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conv, _, err := store.GetOrCreate(ctx, tenant.ID, "+race")
				errs[i] = err
				if conv != nil {
					ids[i] = conv.ID
				}
			}(i)
		}
		wg.Wait()

		require.NoError(t, errors.Join(errs...))
		for _, id := range ids {
			assert.Equal(t, ids[0], id, "all callers must observe one conversation")
		}

		list, err := store.ListConversations(ctx, domain.ConversationFilter{TenantID: tenant.ID})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("Save", func(t *testing.T) {
		tenant := newTenant(t)
		conv, _, err := store.GetOrCreate(ctx, tenant.ID, "+300")
		require.NoError(t, err)
		before := conv.UpdatedAt

		time.Sleep(2 * time.Millisecond)
		conv.State = domain.StateWaitingForUser
		conv.CurrentNode = "name"
		conv.AssignedAgent = "ana"
		require.NoError(t, store.Save(ctx, conv))
		assert.True(t, conv.UpdatedAt.After(before))

		loaded, err := store.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateWaitingForUser, loaded.State)
		assert.Equal(t, "name", loaded.CurrentNode)
		assert.Equal(t, "ana", loaded.AssignedAgent)

		missing := domain.NewConversation(tenant.ID, "+ghost")
		missing.ID = conv.ID + 1_000_000
		assert.ErrorIs(t, store.Save(ctx, missing), domain.ErrConversationNotFound)

		_, err = store.GetConversation(ctx, missing.ID)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("Message Log", func(t *testing.T) {
		tenant := newTenant(t)
		conv, _, err := store.GetOrCreate(ctx, tenant.ID, "+400")
		require.NoError(t, err)

		in, err := store.Append(ctx, conv.ID, domain.DirectionInbound, "hello")
		require.NoError(t, err)
		assert.NotZero(t, in.ID)
		assert.Equal(t, domain.DirectionInbound, in.Direction)

		_, err = store.Append(ctx, conv.ID, domain.DirectionOutbound, "Hi")
		require.NoError(t, err)
		_, err = store.Append(ctx, conv.ID, domain.DirectionInbound, "again")
		require.NoError(t, err)

		msgs, err := store.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, []string{"hello", "Hi", "again"}, contents(msgs))
		assert.Equal(t, domain.DirectionOutbound, msgs[1].Direction)
	})

	t.Run("Inbound Delivery Logged Once", func(t *testing.T) {
		tenant := newTenant(t)
		conv, _, err := store.GetOrCreate(ctx, tenant.ID, "+450")
		require.NoError(t, err)

		first, err := store.AppendInbound(ctx, conv.ID, "d-1", "hello")
		require.NoError(t, err)
		again, err := store.AppendInbound(ctx, conv.ID, "d-1", "hello")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, "hello", again.Content)

		_, err = store.AppendInbound(ctx, conv.ID, "d-2", "hello")
		require.NoError(t, err)
		_, err = store.AppendInbound(ctx, conv.ID, "", "no id")
		require.NoError(t, err)
		_, err = store.AppendInbound(ctx, conv.ID, "", "no id")
		require.NoError(t, err)

		msgs, err := store.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"hello", "hello", "no id", "no id"}, contents(msgs))
		for _, m := range msgs {
			assert.Equal(t, domain.DirectionInbound, m.Direction)
		}

		other, _, err := store.GetOrCreate(ctx, tenant.ID, "+451")
		require.NoError(t, err)
		_, err = store.AppendInbound(ctx, other.ID, "d-1", "same delivery id, other conversation")
		require.NoError(t, err)
		otherMsgs, err := store.ListMessages(ctx, other.ID)
		require.NoError(t, err)
		assert.Len(t, otherMsgs, 1)
	})

	t.Run("Commit Step", func(t *testing.T) {
		tenant := newTenant(t)
		conv, _, err := store.GetOrCreate(ctx, tenant.ID, "+500")
		require.NoError(t, err)

		conv.CurrentNode = "name"
		emitted, err := store.CommitStep(ctx, conv, "Hi", "there")
		require.NoError(t, err)
		require.Len(t, emitted, 2)
		assert.Equal(t, domain.DirectionOutbound, emitted[0].Direction)
		assert.Equal(t, conv.ID, emitted[1].ConversationID)
		assert.NotZero(t, emitted[0].ID)

		conv.State = domain.StateWaitingForUser
		emitted, err = store.CommitStep(ctx, conv)
		require.NoError(t, err)
		assert.Empty(t, emitted)

		loaded, err := store.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "name", loaded.CurrentNode)
		assert.Equal(t, domain.StateWaitingForUser, loaded.State)

		msgs, err := store.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"Hi", "there"}, contents(msgs))

		ghost := domain.NewConversation(tenant.ID, "+ghost")
		ghost.ID = conv.ID + 1_000_000
		_, err = store.CommitStep(ctx, ghost, "never")
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("List Conversations", func(t *testing.T) {
		tenant := newTenant(t)
		a, _, err := store.GetOrCreate(ctx, tenant.ID, "+a")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		b, _, err := store.GetOrCreate(ctx, tenant.ID, "+b")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)

		a.State = domain.StateEscalated
		require.NoError(t, store.Save(ctx, a))

		list, err := store.ListConversations(ctx, domain.ConversationFilter{TenantID: tenant.ID})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, a.ID, list[0].ID, "most recently updated first")
		assert.Equal(t, b.ID, list[1].ID)

		escalated, err := store.ListConversations(ctx, domain.ConversationFilter{TenantID: tenant.ID, State: domain.StateEscalated})
		require.NoError(t, err)
		require.Len(t, escalated, 1)
		assert.Equal(t, a.ID, escalated[0].ID)

		limited, err := store.ListConversations(ctx, domain.ConversationFilter{TenantID: tenant.ID, Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("Audit Log", func(t *testing.T) {
		tenant := newTenant(t)
		require.NoError(t, store.RecordAudit(ctx, &domain.AuditEntry{
			TenantID:  tenant.ID,
			EventType: domain.AuditConversationEscalated,
			Data:      map[string]any{"node_id": "x"},
		}))
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, store.RecordAudit(ctx, &domain.AuditEntry{
			TenantID:  tenant.ID,
			EventType: domain.AuditConversationClosed,
		}))

		entries, err := store.ListAudit(ctx, tenant.ID, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, domain.AuditConversationClosed, entries[0].EventType)
		assert.Equal(t, "x", entries[1].Data["node_id"])

		one, err := store.ListAudit(ctx, tenant.ID, 1)
		require.NoError(t, err)
		assert.Len(t, one, 1)
	})
}

// RunQueueContract verifies at-least-once queue semantics. The queue must start empty.
func RunQueueContract(t *testing.T, q Queue) {
	ctx := context.Background()

	t.Run("FIFO and Ack", func(t *testing.T) {
		_, err := q.Enqueue(ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+1", Text: "first"})
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+1", Text: "second"})
		require.NoError(t, err)

		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		d1, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, "first", d1.Event.Text)
		assert.NotEmpty(t, d1.ID)
		require.NoError(t, q.Ack(ctx, d1))

		d2, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, "second", d2.Event.Text)
		require.NoError(t, q.Ack(ctx, d2))

		n, err = q.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Retry Increments Attempts", func(t *testing.T) {
		_, err := q.Enqueue(ctx, domain.InboundEvent{TenantID: 2, Text: "again"})
		require.NoError(t, err)

		d, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, d.Attempts)
		require.NoError(t, q.Retry(ctx, d))

		redelivered, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, d.ID, redelivered.ID)
		assert.Equal(t, 1, redelivered.Attempts)
		assert.Equal(t, "again", redelivered.Event.Text)
		require.NoError(t, q.Ack(ctx, redelivered))
	})

	t.Run("Dequeue Honors Context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := q.Dequeue(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func contents(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
