package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the engine and the inbound worker.
type Metrics struct {
	registry *prometheus.Registry

	InboundEvents *prometheus.CounterVec
	Walks         *prometheus.CounterVec
	NodeVisits    *prometheus.CounterVec
	Escalations   *prometheus.CounterVec
	WalkDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on a dedicated registry,
// together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		InboundEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabaflow_inbound_events_total",
				Help: "Inbound deliveries handled by the worker, by outcome",
			},
			[]string{"outcome"},
		),
		Walks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabaflow_walks_total",
				Help: "Completed flow walks, by stop reason",
			},
			[]string{"stop"},
		),
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabaflow_node_visits_total",
				Help: "Node visits, by node type",
			},
			[]string{"type"},
		),
		Escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabaflow_escalations_total",
				Help: "Conversations handed to a human, by cause",
			},
			[]string{"cause"},
		),
		WalkDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wabaflow_walk_duration_seconds",
				Help:    "Duration of one flow walk including step commits",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	m.registry.MustRegister(
		m.InboundEvents,
		m.Walks,
		m.NodeVisits,
		m.Escalations,
		m.WalkDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, e.g. for tests or extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveInbound counts one settled inbound delivery.
func (m *Metrics) ObserveInbound(outcome string) {
	m.InboundEvents.WithLabelValues(outcome).Inc()
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(string(e.NodeType)).Inc()
		},
		OnWalkStopped: func(_ context.Context, e *domain.WalkEvent) {
			m.Walks.WithLabelValues(string(e.Outcome.Stop)).Inc()
			m.WalkDuration.Observe(e.Duration.Seconds())
		},
		OnEscalated: func(_ context.Context, e *domain.EscalationEvent) {
			m.Escalations.WithLabelValues(EscalationCause(e.Cause)).Inc()
		},
	}
}

// EscalationCause maps an escalation error to a low-cardinality label.
func EscalationCause(err error) string {
	switch {
	case errors.Is(err, domain.ErrStepLimitExceeded):
		return "step_limit"
	case errors.Is(err, domain.ErrUnrecognizedNodeType):
		return "unknown_node_type"
	case errors.Is(err, domain.ErrDanglingNode):
		return "dangling_node"
	case err == nil:
		return "operator"
	default:
		return "other"
	}
}
