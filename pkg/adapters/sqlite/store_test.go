package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aretw0/wabaflow/pkg/adapters/sqlite"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	ports.RunStoreContract(t, newTestStore(t))
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wabaflow.db")

	store, err := sqlite.Open(path)
	require.NoError(t, err)

	tenant, err := store.CreateTenant(ctx, "acme")
	require.NoError(t, err)
	conv, _, err := store.GetOrCreate(ctx, tenant.ID, "+55")
	require.NoError(t, err)
	conv.State = domain.StateWaitingForUser
	conv.CurrentNode = "ask"
	_, err = store.CommitStep(ctx, conv, "What is your name?")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, created, err := reopened.GetOrCreate(ctx, tenant.ID, "+55")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.StateWaitingForUser, loaded.State)
	assert.Equal(t, "ask", loaded.CurrentNode)

	msgs, err := reopened.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.DirectionOutbound, msgs[0].Direction)
}

func TestSQLiteStore_AppendUnknownConversation(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Append(context.Background(), 42, domain.DirectionInbound, "hi")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestSQLiteStore_DuplicateVersionRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tenant, err := store.CreateTenant(ctx, "acme")
	require.NoError(t, err)
	require.NoError(t, store.CreateFlow(ctx, &domain.Flow{TenantID: tenant.ID, Name: "a", Version: 1, Status: domain.FlowStatusDraft}))
	err = store.CreateFlow(ctx, &domain.Flow{TenantID: tenant.ID, Name: "b", Version: 1, Status: domain.FlowStatusDraft})
	assert.Error(t, err)
}
