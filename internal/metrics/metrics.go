// Package metrics provides Prometheus instrumentation for import runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailspend/mailspend/pkg/api"
)

// Run result labels.
const (
	ResultCompleted = "completed"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Metrics holds the pipeline's Prometheus collectors. Each instance
// carries its own registry so tests can construct them freely.
type Metrics struct {
	Imports        *prometheus.CounterVec
	Messages       *prometheus.CounterVec
	ImportDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the metrics set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Imports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailspend_imports_total",
			Help: "Import runs by result.",
		}, []string{"result"}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailspend_messages_total",
			Help: "Candidate messages by processing outcome.",
		}, []string{"outcome"}),
		ImportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailspend_import_duration_seconds",
			Help:    "Duration of import runs.",
			Buckets: prometheus.DefBuckets,
		}),
		registry: registry,
	}
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records one finished (or aborted) import run.
func (m *Metrics) ObserveRun(summary api.RunSummary, result string, elapsed time.Duration) {
	m.Imports.WithLabelValues(result).Inc()
	m.ImportDuration.Observe(elapsed.Seconds())
	m.Messages.WithLabelValues(string(api.OutcomeRecorded)).Add(float64(summary.Recorded))
	m.Messages.WithLabelValues(string(api.OutcomeSkipped)).Add(float64(summary.Skipped))
	m.Messages.WithLabelValues(string(api.OutcomeFailed)).Add(float64(summary.Failed))
}
