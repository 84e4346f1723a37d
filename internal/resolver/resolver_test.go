package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/wabaflow/internal/resolver"
	"github.com/aretw0/wabaflow/pkg/adapters/memory"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publish(t *testing.T, store *memory.Store, tenantID int64, status domain.FlowStatus, message string) *domain.Flow {
	t.Helper()
	f := &domain.Flow{
		TenantID:   tenantID,
		Name:       "welcome",
		Status:     status,
		Definition: dsl.New().Send("greet", message).MustBuild(),
	}
	require.NoError(t, store.CreateFlow(context.Background(), f))
	return f
}

func TestResolveActive_NoFlow(t *testing.T) {
	r := resolver.New(memory.NewStore())

	_, _, err := r.ResolveActive(context.Background(), 9)
	assert.ErrorIs(t, err, domain.ErrNoActiveFlow)
}

func TestResolveActive_OnlyDrafts(t *testing.T) {
	store := memory.NewStore()
	publish(t, store, 1, domain.FlowStatusDraft, "draft")

	_, _, err := resolver.New(store).ResolveActive(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNoActiveFlow)
}

func TestResolveActive_HighestPublishedVersion(t *testing.T) {
	store := memory.NewStore()
	publish(t, store, 1, domain.FlowStatusPublished, "v1")
	v2 := publish(t, store, 1, domain.FlowStatusPublished, "v2")
	publish(t, store, 1, domain.FlowStatusDraft, "v3 draft")
	publish(t, store, 2, domain.FlowStatusPublished, "other tenant")

	flow, graph, err := resolver.New(store).ResolveActive(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, flow.ID)
	assert.Equal(t, v2.Version, graph.Version)

	n, ok := graph.Node("greet")
	require.True(t, ok)
	assert.Equal(t, "v2", n.Message)
}

func TestResolveActive_CachesGraphs(t *testing.T) {
	store := memory.NewStore()
	publish(t, store, 1, domain.FlowStatusPublished, "v1")
	r := resolver.New(store)

	_, g1, err := r.ResolveActive(context.Background(), 1)
	require.NoError(t, err)
	_, g2, err := r.ResolveActive(context.Background(), 1)
	require.NoError(t, err)
	assert.Same(t, g1, g2)
	assert.Equal(t, 1, r.Cached())

	publish(t, store, 1, domain.FlowStatusPublished, "v2")
	_, g3, err := r.ResolveActive(context.Background(), 1)
	require.NoError(t, err)
	assert.NotSame(t, g1, g3)
}

func TestResolveActive_CacheDisabled(t *testing.T) {
	store := memory.NewStore()
	publish(t, store, 1, domain.FlowStatusPublished, "v1")
	r := resolver.New(store, resolver.WithCacheSize(0))

	_, g1, err := r.ResolveActive(context.Background(), 1)
	require.NoError(t, err)
	_, g2, err := r.ResolveActive(context.Background(), 1)
	require.NoError(t, err)
	assert.NotSame(t, g1, g2)
	assert.Zero(t, r.Cached())
}

type brokenFlows struct{}

func (brokenFlows) CreateFlow(context.Context, *domain.Flow) error { return errors.New("connection refused") }
func (brokenFlows) GetFlow(context.Context, int64) (*domain.Flow, error) {
	return nil, errors.New("connection refused")
}
func (brokenFlows) ListFlows(context.Context, int64) ([]domain.Flow, error) {
	return nil, errors.New("connection refused")
}
func (brokenFlows) ActiveFlow(context.Context, int64) (*domain.Flow, error) {
	return nil, errors.New("connection refused")
}

func TestResolveActive_StorageErrorIsNotNoActiveFlow(t *testing.T) {
	_, _, err := resolver.New(&brokenFlows{}).ResolveActive(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoActiveFlow)
}
