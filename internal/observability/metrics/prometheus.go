// Package metrics provides Prometheus metrics for the interpretation
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsProcessed prometheus.Counter
	PrescriptionsFailed    prometheus.Counter
	StageDuration          *prometheus.HistogramVec
	ActivePipelines        prometheus.Gauge
	SourceFailures         *prometheus.CounterVec
	EventsPublished        prometheus.Counter
	KnowledgeCacheHits     prometheus.Counter
	KnowledgeCacheMisses   prometheus.Counter
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default
// registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all metrics against the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PrescriptionsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_processed_total",
			Help: "Total prescriptions processed end to end",
		}),
		PrescriptionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_failed_total",
			Help: "Total prescriptions that failed before completion",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"stage"}),
		ActivePipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipelines_active",
			Help: "Currently running pipeline executions",
		}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledge_source_failures_total",
			Help: "Failed lookups per knowledge source",
		}, []string{"source"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_events_published_total",
			Help: "Total pipeline events published to the broker",
		}),
		KnowledgeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "knowledge_cache_hits_total",
			Help: "Knowledge cache hits",
		}),
		KnowledgeCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "knowledge_cache_misses_total",
			Help: "Knowledge cache misses",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.PrescriptionsProcessed,
		m.PrescriptionsFailed,
		m.StageDuration,
		m.ActivePipelines,
		m.SourceFailures,
		m.EventsPublished,
		m.KnowledgeCacheHits,
		m.KnowledgeCacheMisses,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
