// Package metrics exposes Prometheus metrics for the engine and the ingest
// daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trail"

// Collector holds all Prometheus metrics for the application. Each Collector
// owns its registry, so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// Engine metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	VisitsRecorded    prometheus.Counter
	VisitsDeleted     prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of engine operations by outcome",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Engine operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		VisitsRecorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visits_recorded_total",
				Help:      "Total number of visits recorded",
			},
		),
		VisitsDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visits_deleted_total",
				Help:      "Total number of visits deleted, singly or in bulk",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.Operations,
		c.OperationDuration,
		c.VisitsRecorded,
		c.VisitsDeleted,
		c.HTTPRequests,
		c.HTTPDuration,
	)

	return c
}

// ObserveOperation records the outcome and latency of one engine call. It
// is safe to call on a nil Collector.
func (c *Collector) ObserveOperation(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.Operations.WithLabelValues(op, status).Inc()
	c.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// AddRecorded counts newly stored visits. Nil-safe.
func (c *Collector) AddRecorded(n int64) {
	if c == nil {
		return
	}
	c.VisitsRecorded.Add(float64(n))
}

// AddDeleted counts removed visits. Nil-safe.
func (c *Collector) AddDeleted(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.VisitsDeleted.Add(float64(n))
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves this collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
