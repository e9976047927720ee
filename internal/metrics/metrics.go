// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ignisos"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	captureOutcomes   *prometheus.CounterVec
	completionLatency prometheus.Histogram
	sweptRows         *prometheus.CounterVec
}

// New builds collectors on a private registry so tests can create as many as
// they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		captureOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_outcomes_total",
			Help:      "Note captures by outcome (created, no_tasks, completion_error, parse_error, store_error).",
		}, []string{"outcome"}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of chat completion calls made by the capture pipeline.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		sweptRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_swept_total",
			Help:      "Orphaned child rows removed by the reconciliation sweep.",
		}, []string{"collection"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.captureOutcomes,
		m.completionLatency,
		m.sweptRows,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCapture(outcome string, completion time.Duration) {
	if m == nil {
		return
	}
	m.captureOutcomes.WithLabelValues(outcome).Inc()
	if completion > 0 {
		m.completionLatency.Observe(completion.Seconds())
	}
}

func (m *Metrics) ObserveSweep(collection string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.sweptRows.WithLabelValues(collection).Add(float64(rows))
}
