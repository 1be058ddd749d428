// Package metrics holds the Prometheus collectors for floodwatch. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "floodwatch"

// Metrics holds the Prometheus counters, histograms, and gauges.
type Metrics struct {
	ReadingsIngested *prometheus.CounterVec   // labels: result={stored,invalid,error}
	Assessments      *prometheus.CounterVec   // labels: tier
	AdvisoryRenders  *prometheus.CounterVec   // labels: backend, outcome={success,error}
	HTTPRequests     *prometheus.CounterVec   // labels: route, method, status
	HTTPDuration     *prometheus.HistogramVec // labels: route, method
	LatestLevel      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReadingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Readings received for ingestion by result.",
		}, []string{"result"}),
		Assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Risk assessments produced by tier.",
		}, []string{"tier"}),
		AdvisoryRenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisory_renders_total",
			Help:      "Advisory rendering attempts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method"}),
		LatestLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_level_percent",
			Help:      "Most recently assessed water level in percent of capacity.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ReadingsIngested,
			m.Assessments,
			m.AdvisoryRenders,
			m.HTTPRequests,
			m.HTTPDuration,
			m.LatestLevel,
		)
	}
	return m
}

// IngestResult counts one ingestion outcome.
func (m *Metrics) IngestResult(result string) {
	if m == nil {
		return
	}
	m.ReadingsIngested.WithLabelValues(result).Inc()
}

// Assessment records a produced tier and, when known, the level behind it.
func (m *Metrics) Assessment(tier string, level float64, hasLevel bool) {
	if m == nil {
		return
	}
	m.Assessments.WithLabelValues(tier).Inc()
	if hasLevel {
		m.LatestLevel.Set(level)
	}
}

// AdvisoryRender counts one rendering attempt.
func (m *Metrics) AdvisoryRender(backend, outcome string) {
	if m == nil {
		return
	}
	m.AdvisoryRenders.WithLabelValues(backend, outcome).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(seconds)
}
