// Package metrics provides Prometheus metrics for docpipe
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline
type Metrics struct {
	registry *prometheus.Registry

	// Document flow
	DocumentsTotal     *prometheus.CounterVec
	AdmissionDecisions *prometheus.CounterVec
	DuplicatesDropped  *prometheus.CounterVec

	// Extraction
	ExtractionAttempts *prometheus.CounterVec
	CircuitState       *prometheus.GaugeVec

	// Resources
	Workers            prometheus.Gauge
	MemoryUsedFraction prometheus.Gauge

	// Runs
	RunDuration prometheus.Histogram
}

// New creates all collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := newWithRegisterer(reg)
	m.registry = reg
	return m
}

func newWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.DocumentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_documents_total",
			Help: "Documents finished by the worker pool, by outcome",
		},
		[]string{"outcome"},
	)

	m.AdmissionDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_admission_decisions_total",
			Help: "Admission decisions, by action",
		},
		[]string{"action"},
	)

	m.DuplicatesDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_duplicates_dropped_total",
			Help: "Documents dropped by deduplication, by kind (exact, near)",
		},
		[]string{"kind"},
	)

	m.ExtractionAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_extraction_attempts_total",
			Help: "Extraction attempts, by outcome variant",
		},
		[]string{"outcome"},
	)

	m.CircuitState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docpipe_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open), by breaker name",
		},
		[]string{"breaker"},
	)

	m.Workers = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "docpipe_workers",
			Help: "Worker pool size of the current run",
		},
	)

	m.MemoryUsedFraction = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "docpipe_memory_used_fraction",
			Help: "Most recent sampled memory-used fraction",
		},
	)

	m.RunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docpipe_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
	)

	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDocument counts a finished document
func (m *Metrics) RecordDocument(outcome string) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(outcome).Inc()
}

// RecordAdmission counts an admission decision
func (m *Metrics) RecordAdmission(action string) {
	if m == nil {
		return
	}
	m.AdmissionDecisions.WithLabelValues(action).Inc()
}

// RecordDuplicate counts a dropped duplicate
func (m *Metrics) RecordDuplicate(kind string) {
	if m == nil {
		return
	}
	m.DuplicatesDropped.WithLabelValues(kind).Inc()
}

// RecordAttempt counts one extraction attempt
func (m *Metrics) RecordAttempt(outcome string) {
	if m == nil {
		return
	}
	m.ExtractionAttempts.WithLabelValues(outcome).Inc()
}

// SetCircuitState publishes a breaker state
func (m *Metrics) SetCircuitState(name string, state float64) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(name).Set(state)
}

// SetWorkers publishes the worker pool size
func (m *Metrics) SetWorkers(n int) {
	if m == nil {
		return
	}
	m.Workers.Set(float64(n))
}

// SetMemoryUsed publishes the memory-used fraction
func (m *Metrics) SetMemoryUsed(fraction float64) {
	if m == nil {
		return
	}
	m.MemoryUsedFraction.Set(fraction)
}

// ObserveRun records a run duration in seconds
func (m *Metrics) ObserveRun(seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(seconds)
}
