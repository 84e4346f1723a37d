package testutils

import (
	"context"
	"testing"

	"github.com/aretw0/wabaflow"
	"github.com/aretw0/wabaflow/pkg/adapters/memory"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/stretchr/testify/require"
)

// SetupTenant creates an engine over a fresh in-memory store and one tenant in it.
// It fails the test immediately on error.
func SetupTenant(t *testing.T, opts ...wabaflow.Option) (*wabaflow.Engine, *domain.Tenant) {
	t.Helper()

	engine, err := wabaflow.New(memory.NewStore(), opts...)
	require.NoError(t, err, "Failed to init engine")

	tenant, err := engine.Store().CreateTenant(context.Background(), "acme")
	require.NoError(t, err, "Failed to create tenant")

	return engine, tenant
}

// Publish stores def as the tenant's newest published flow.
func Publish(t *testing.T, engine *wabaflow.Engine, tenantID int64, def domain.Definition) *domain.Flow {
	t.Helper()

	flow := &domain.Flow{TenantID: tenantID, Name: "test", Definition: def}
	require.NoError(t, engine.PublishFlow(context.Background(), flow), "Failed to publish flow")
	return flow
}
