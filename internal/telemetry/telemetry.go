// Package telemetry exposes sync metrics for local scraping.
//
// Collectors live in a private registry served only through the local HTTP
// surface; nothing is pushed anywhere. A nil *Metrics is valid and records
// nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "possync"

// Outcome labels for a sync pass.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds the sync collectors.
type Metrics struct {
	registry *prometheus.Registry

	Passes       *prometheus.CounterVec
	PassDuration prometheus.Histogram
	Items        *prometheus.CounterVec
	Batches      *prometheus.CounterVec
	Throttles    prometheus.Counter
	QueueDepth   *prometheus.GaugeVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Sync passes by outcome",
			},
			[]string{"outcome"},
		),
		PassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Duration of completed sync passes",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		Items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Queue items processed by entity type and result",
			},
			[]string{"entity_type", "result"},
		),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Delivered batches by entity type and result",
			},
			[]string{"entity_type", "result"},
		),
		Throttles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "throttles_total",
				Help:      "Throttling responses received from the spreadsheet service",
			},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_items",
				Help:      "Queue items by status",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		m.Passes,
		m.PassDuration,
		m.Items,
		m.Batches,
		m.Throttles,
		m.QueueDepth,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePass records a finished pass.
func (m *Metrics) ObservePass(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		m.PassDuration.Observe(d.Seconds())
	}
}

// ObserveBatch records a delivered or failed batch of n items.
func (m *Metrics) ObserveBatch(entityType, result string, n int) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(entityType, result).Inc()
	m.Items.WithLabelValues(entityType, result).Add(float64(n))
}

// ObserveThrottle counts one throttling response.
func (m *Metrics) ObserveThrottle() {
	if m == nil {
		return
	}
	m.Throttles.Inc()
}

// SetQueueDepth publishes the queue counts.
func (m *Metrics) SetQueueDepth(pending, synced, failed int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues("pending").Set(float64(pending))
	m.QueueDepth.WithLabelValues("synced").Set(float64(synced))
	m.QueueDepth.WithLabelValues("failed").Set(float64(failed))
}
