package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hermes/internal/dispatch"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "hermes").
	Namespace string

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

type requestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
}

func newRequestMetrics(cfg MetricsConfig) *requestMetrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "hermes"
	}
	if cfg.Buckets == nil {
		cfg.Buckets = prometheus.DefBuckets
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &requestMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Total number of dispatched requests",
		}, []string{"method", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Request processing duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"method"}),

		requestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "request_errors_total",
			Help:      "Total number of requests that reached the error boundary",
		}, []string{"method"}),
	}
}

// Metrics records a counter and duration histogram per request.
// Labels are method and status; paths are deliberately not used as
// labels to keep cardinality bounded.
func Metrics(cfg MetricsConfig) dispatch.Middleware {
	m := newRequestMetrics(cfg)
	return func(r *http.Request, next dispatch.Next) (*dispatch.Response, error) {
		start := time.Now()
		resp, err := next()
		m.requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())

		status := "error"
		if err != nil {
			m.requestErrors.WithLabelValues(r.Method).Inc()
		} else if resp != nil {
			status = strconv.Itoa(resp.Status)
		}
		m.requestsTotal.WithLabelValues(r.Method, status).Inc()
		return resp, err
	}
}
