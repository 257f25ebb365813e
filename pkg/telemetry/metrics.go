package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the small counters/histograms surface core operations emit
// through. It does not export an OpenTelemetry pipeline; it wraps a
// Prometheus registry and exposes the registry's handler for callers
// that want to serve /metrics themselves.
type Metrics struct {
	attributes prometheus.Labels
	registry   *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.HistogramVec
	cacheHits  *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

// Config configures metric namespacing and the static attributes every
// metric carries as constant labels.
type Config struct {
	Namespace  string
	Subsystem  string
	Attributes map[string]string
}

// New builds a Metrics instance backed by a fresh Prometheus registry.
func New(cfg Config) (*Metrics, error) {
	labels := prometheus.Labels{}
	for k, v := range cfg.Attributes {
		labels[k] = v
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		attributes: labels,
		registry:   registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "operations_total",
			Help:        "Total number of storage operations.",
			ConstLabels: labels,
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Duration of storage operations in seconds.",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15),
			ConstLabels: labels,
		}, []string{"operation"}),
		bytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "operation_bytes",
			Help:        "Size of storage operation payloads in bytes.",
			Buckets:     prometheus.ExponentialBuckets(1024, 2, 20),
			ConstLabels: labels,
		}, []string{"operation"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "cache_requests_total",
			Help:        "Total number of cache lookups by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of operation errors by kind.",
			ConstLabels: labels,
		}, []string{"operation", "kind"}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.duration, m.bytes, m.cacheHits, m.errors} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordOperation records one storage-provider call's outcome, latency,
// and payload size.
func (m *Metrics) RecordOperation(operation string, duration time.Duration, size int64, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errors.WithLabelValues(operation, classifyErrorKind(err)).Inc()
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
	if size > 0 {
		m.bytes.WithLabelValues(operation).Observe(float64(size))
	}
}

// RecordCacheHit records a cache lookup result ("hit" or "miss").
func (m *Metrics) RecordCacheHit(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.WithLabelValues(result).Inc()
}

// Handler returns an http.Handler serving this registry's metrics in
// Prometheus exposition format. Callers mount it wherever they run
// their own metrics endpoint; this package does not start one itself.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
