package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the write core's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal     *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	RetriesTotal        *prometheus.CounterVec
	EdgesCreatedTotal   prometheus.Counter
	EntitiesAutoCreated prometheus.Counter
	AspectVersions      *prometheus.HistogramVec
}

// NewMetrics registers the instruments on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "writecore",
			Name:      "operations_total",
			Help:      "Synthesized operations executed, by name and outcome.",
		}, []string{"operation", "status"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "writecore",
			Name:      "operation_duration_seconds",
			Help:      "End-to-end operation latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "writecore",
			Name:      "operation_retries_total",
			Help:      "Transient-failure retries, by operation.",
		}, []string{"operation"}),
		EdgesCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "writecore",
			Name:      "edges_created_total",
			Help:      "Relationship edges merged by rule and lineage evaluation.",
		}),
		EntitiesAutoCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "writecore",
			Name:      "entities_auto_created_total",
			Help:      "Entity nodes materialized implicitly by rules or aspect writes.",
		}),
		AspectVersions: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "writecore",
			Name:      "aspect_version",
			Help:      "Version numbers written, per aspect.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"aspect"}),
	}
}

// ObserveOperation records one completed operation.
func (m *Metrics) ObserveOperation(operation, status string, elapsed time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Handler exposes the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
