package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
)

// DefaultCacheSize bounds the number of compiled graphs kept in memory.
const DefaultCacheSize = 1024

// Resolver finds the active flow of a tenant and hands out its compiled graph.
// Published definitions are immutable, so graphs are cached by flow ID.
type Resolver struct {
	flows ports.FlowStore

	mu        sync.RWMutex
	graphs    map[int64]*domain.Graph
	cacheSize int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCacheSize bounds the graph cache. Non-positive disables caching.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		r.cacheSize = n
	}
}

// New creates a resolver reading from flows.
func New(flows ports.FlowStore, opts ...Option) *Resolver {
	r := &Resolver{
		flows:     flows,
		graphs:    make(map[int64]*domain.Graph),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveActive returns the published flow with the highest version for the tenant.
// It fails with domain.ErrNoActiveFlow when there is none and has no side effects.
func (r *Resolver) ResolveActive(ctx context.Context, tenantID int64) (*domain.Flow, *domain.Graph, error) {
	flow, err := r.flows.ActiveFlow(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveFlow) {
			return nil, nil, fmt.Errorf("%w for tenant %d", domain.ErrNoActiveFlow, tenantID)
		}
		return nil, nil, fmt.Errorf("failed to resolve active flow: %w", err)
	}
	return flow, r.graph(flow), nil
}

func (r *Resolver) graph(flow *domain.Flow) *domain.Graph {
	if r.cacheSize <= 0 {
		return domain.CompileFlow(flow)
	}

	r.mu.RLock()
	g, ok := r.graphs[flow.ID]
	r.mu.RUnlock()
	if ok {
		return g
	}

	g = domain.CompileFlow(flow)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.graphs) >= r.cacheSize {
		r.graphs = make(map[int64]*domain.Graph)
	}
	r.graphs[flow.ID] = g
	return g
}

// Cached returns the number of compiled graphs held.
func (r *Resolver) Cached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.graphs)
}
