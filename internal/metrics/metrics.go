// Package metrics defines the Prometheus collectors of the ranking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups all collectors. A nil *Metrics records nothing.
type Metrics struct {
	Comparisons       *prometheus.CounterVec
	ComparisonLatency *prometheus.HistogramVec
	ComparisonRetries *prometheus.CounterVec
	Insertions        *prometheus.CounterVec
	Probes            prometheus.Histogram
	Invalidations     prometheus.Counter
	Runs              *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Comparisons: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spectrum_comparisons_total",
			Help: "Comparisons answered, by model and source (cached, computed, error).",
		}, []string{"model", "source"}),
		ComparisonLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spectrum_comparison_duration_seconds",
			Help:    "Latency of computed comparisons including retries.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"model"}),
		ComparisonRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spectrum_comparison_retries_total",
			Help: "Retried comparator calls.",
		}, []string{"model"}),
		Insertions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spectrum_insertions_total",
			Help: "Insertion attempts by outcome.",
		}, []string{"outcome"}),
		Probes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "spectrum_insertion_probes",
			Help:    "Comparator probes per binary insertion.",
			Buckets: []float64{0, 1, 2, 4, 6, 8, 10, 12, 16, 20},
		}),
		Invalidations: f.NewCounter(prometheus.CounterOpts{
			Name: "spectrum_invalidated_nodes_total",
			Help: "Nodes removed because their item changed context.",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spectrum_runs_total",
			Help: "Finished ranking runs by status.",
		}, []string{"status"}),
	}
}

// ObserveComparison counts one comparison.
func (m *Metrics) ObserveComparison(model, source string, seconds float64) {
	if m == nil {
		return
	}
	m.Comparisons.WithLabelValues(model, source).Inc()
	if source == "computed" {
		m.ComparisonLatency.WithLabelValues(model).Observe(seconds)
	}
}

// ObserveRetry counts one retried comparator call.
func (m *Metrics) ObserveRetry(model string) {
	if m == nil {
		return
	}
	m.ComparisonRetries.WithLabelValues(model).Inc()
}

// ObserveInsertion counts one insertion attempt and its probe count.
func (m *Metrics) ObserveInsertion(outcome string, probes int) {
	if m == nil {
		return
	}
	m.Insertions.WithLabelValues(outcome).Inc()
	if outcome == "inserted" {
		m.Probes.Observe(float64(probes))
	}
}

// ObserveInvalidation counts removed nodes.
func (m *Metrics) ObserveInvalidation(nodes int) {
	if m == nil || nodes <= 0 {
		return
	}
	m.Invalidations.Add(float64(nodes))
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
}
