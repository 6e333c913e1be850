// Package metrics provides Prometheus metrics collection for the relay services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common labels used across metrics.
const (
	LabelService  = "service"
	LabelMethod   = "method"
	LabelPath     = "path"
	LabelStatus   = "status"
	LabelUpstream = "upstream"
	LabelStep     = "step"
	LabelOutcome  = "outcome"
	LabelSource   = "source"
)

// Metrics contains all Prometheus metrics for a service.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Upstream (identity provider) metrics
	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec

	// Exchange metrics
	exchangesTotal *prometheus.CounterVec
	emailSources   *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	ServiceName string
	Namespace   string
	Subsystem   string
}

// New creates a new Metrics instance.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "oauthrelay"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		serviceName: cfg.ServiceName,
		registry:    registry,
	}

	factory := promauto.With(registry)

	m.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{LabelService, LabelMethod, LabelPath, LabelStatus},
	)

	m.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelMethod, LabelPath, LabelStatus},
	)

	m.httpRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed.",
		},
	)

	m.upstreamRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_requests_total",
			Help:      "Total number of identity provider requests by exchange step.",
		},
		[]string{LabelUpstream, LabelStep, LabelStatus},
	)

	m.upstreamRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_request_duration_seconds",
			Help:      "Identity provider request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelUpstream, LabelStep},
	)

	m.exchangesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "exchanges_total",
			Help:      "Total number of code exchanges by outcome.",
		},
		[]string{LabelOutcome},
	)

	m.emailSources = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "email_resolutions_total",
			Help:      "Where the returned email address came from.",
		},
		[]string{LabelSource},
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// --- HTTP Metrics ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(m.serviceName, method, path, statusStr).Inc()
	m.httpRequestDuration.WithLabelValues(m.serviceName, method, path, statusStr).Observe(duration.Seconds())
}

// --- Upstream Metrics ---

// RecordUpstreamRequest records one identity provider call. A status of 0
// means the call failed before a response arrived.
func (m *Metrics) RecordUpstreamRequest(upstream, step string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	if status == 0 {
		statusStr = "error"
	}
	m.upstreamRequestsTotal.WithLabelValues(upstream, step, statusStr).Inc()
	m.upstreamRequestDuration.WithLabelValues(upstream, step).Observe(duration.Seconds())
}

// --- Exchange Metrics ---

// RecordExchange records the outcome of one code exchange.
func (m *Metrics) RecordExchange(outcome string) {
	m.exchangesTotal.WithLabelValues(outcome).Inc()
}

// RecordEmailSource records which fallback produced the returned email.
func (m *Metrics) RecordEmailSource(source string) {
	m.emailSources.WithLabelValues(source).Inc()
}

// --- Middleware ---

// HTTPMiddleware returns an HTTP middleware that records request metrics.
// Paths are labelled by pattern so unknown URLs do not explode cardinality.
func (m *Metrics) HTTPMiddleware(pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.httpRequestsInFlight.Inc()
			defer m.httpRequestsInFlight.Dec()

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			m.RecordHTTPRequest(r.Method, path, wrapped.status, time.Since(start))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
