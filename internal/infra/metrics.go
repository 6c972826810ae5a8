package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes rate evaluation counters on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	evaluations  *prometheus.CounterVec
	evalDuration prometheus.Histogram
	ratesApplied *prometheus.CounterVec
	feedErrors   *prometheus.CounterVec
	streams      prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_evaluations_total",
				Help: "Rule evaluations by outcome",
			},
			[]string{"result"},
		),
		evalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rate_evaluation_duration_seconds",
				Help:    "Time spent fetching rates and evaluating a quote",
				Buckets: prometheus.DefBuckets,
			},
		),
		ratesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_updates_total",
				Help: "Exchange rates applied to evaluations",
			},
			[]string{"exchange"},
		),
		feedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_feed_errors_total",
				Help: "Failed exchange rate fetches",
			},
			[]string{"exchange"},
		),
		streams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rate_feed_streams_active",
				Help: "Connected streaming feeds",
			},
		),
	}
	m.registry.MustRegister(m.evaluations, m.evalDuration, m.ratesApplied, m.feedErrors, m.streams)
	return m
}

// RecordEvaluation records the outcome of a Reevaluate call.
func (m *Metrics) RecordEvaluation(resolved bool, elapsed time.Duration) {
	result := "unresolved"
	if resolved {
		result = "resolved"
	}
	m.evaluations.WithLabelValues(result).Inc()
	m.evalDuration.Observe(elapsed.Seconds())
}

// RecordRate records a rate applied to an evaluation.
func (m *Metrics) RecordRate(exchange string) {
	m.ratesApplied.WithLabelValues(exchange).Inc()
}

// RecordFeedError records a failed fetch.
func (m *Metrics) RecordFeedError(exchange string) {
	m.feedErrors.WithLabelValues(exchange).Inc()
}

// IncrementStreams increments connected streams by 1.
func (m *Metrics) IncrementStreams() {
	m.streams.Inc()
}

// DecrementStreams decrements connected streams by 1.
func (m *Metrics) DecrementStreams() {
	m.streams.Dec()
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
