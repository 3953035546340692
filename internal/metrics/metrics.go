// Package metrics exposes the Prometheus instruments of the scan pipeline.
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spreadbot"

// Metrics owns a private registry and every collector registered in it.
type Metrics struct {
	registry *prometheus.Registry

	fetchTotal       *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	priceDiff        *prometheus.GaugeVec
	detected         prometheus.Counter
	persisted        prometheus.Counter
	duplicates       prometheus.Counter
	storageErrors    prometheus.Counter
	deliveryFailures *prometheus.CounterVec
	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	subscribers      prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go and
// process collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_fetch_total",
			Help:      "Quote fetches per exchange by result.",
		}, []string{"exchange", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_fetch_duration_seconds",
			Help:      "Quote fetch latency per exchange.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"exchange"}),
		priceDiff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price_diff_percent",
			Help:      "Best percent difference between exchanges seen in the last cycle.",
		}, []string{"pair"}),
		detected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_detected_total",
			Help:      "Opportunities above threshold, before dedup.",
		}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_persisted_total",
			Help:      "Newly persisted opportunities.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_duplicate_total",
			Help:      "Candidates dropped because an identical record exists.",
		}),
		storageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Candidates dropped because of a storage failure.",
		}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Failed deliveries per channel.",
		}, []string{"channel"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Scheduler cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of completed cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Registered subscribers at the start of the last cycle.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetchTotal, m.fetchDuration, m.priceDiff,
		m.detected, m.persisted, m.duplicates, m.storageErrors,
		m.deliveryFailures, m.cycles, m.cycleDuration, m.subscribers,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one quote fetch.
func (m *Metrics) ObserveFetch(exchange string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.fetchTotal.WithLabelValues(exchange, result).Inc()
	m.fetchDuration.WithLabelValues(exchange).Observe(d.Seconds())
}

// SetPriceDiff records the best percent difference seen for pair.
func (m *Metrics) SetPriceDiff(pair string, pct float64) {
	if m == nil {
		return
	}
	m.priceDiff.WithLabelValues(pair).Set(pct)
}

// AddDetected counts opportunities above threshold.
func (m *Metrics) AddDetected(n int) {
	if m == nil {
		return
	}
	m.detected.Add(float64(n))
}

// AddPersisted counts newly persisted opportunities.
func (m *Metrics) AddPersisted(n int) {
	if m == nil {
		return
	}
	m.persisted.Add(float64(n))
}

// IncDuplicate counts a candidate rejected as already stored.
func (m *Metrics) IncDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// IncStorageError counts a candidate dropped on a storage failure.
func (m *Metrics) IncStorageError() {
	if m == nil {
		return
	}
	m.storageErrors.Inc()
}

// IncDeliveryFailure counts one failed delivery on channel.
func (m *Metrics) IncDeliveryFailure(channel string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(channel).Inc()
}

// ObserveCycle records a finished or skipped cycle. Skipped cycles are not
// timed.
func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		m.cycleDuration.Observe(d.Seconds())
	}
}

// SetSubscribers records the current subscriber count.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
