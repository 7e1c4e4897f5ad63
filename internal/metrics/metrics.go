// Package metrics exports rule evaluation and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/ruleng/internal/logger"
	"github.com/liamcoop/ruleng/rules"
)

const defaultNamespace = "ruleng"

// Collector records metrics into its own registry. It implements rules.Observer.
//
// Metrics:
//   - ruleng_evaluations_total: tree evaluations by tree and result kind
//   - ruleng_evaluation_duration_seconds: tree evaluation duration
//   - ruleng_http_requests_total: HTTP requests by method, route and status
//   - ruleng_http_request_duration_seconds: HTTP request duration
//   - ruleng_log_errors_total / ruleng_log_warnings_total: logger counters, unsampled
type Collector struct {
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

var _ rules.Observer = (*Collector)(nil)

// NewCollector creates a collector. If registry is nil a new one is created with
// the Go runtime and process collectors installed.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of rule tree evaluations",
			},
			[]string{"tree", "result"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of rule tree evaluation in seconds, actions included",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 12), // 1µs to ~4s
			},
			[]string{"tree"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.evaluationsTotal,
		c.evaluationDuration,
		c.requestsTotal,
		c.requestDuration,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Total number of errors logged, before sampling",
		}, func() float64 { return float64(logger.TotalErrors.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_warnings_total",
			Help:      "Total number of warnings logged, before sampling",
		}, func() float64 { return float64(logger.TotalWarnings.Load()) }),
	)

	return c
}

// ObserveEvaluation records one top-level tree evaluation.
func (c *Collector) ObserveEvaluation(tree string, kind rules.Kind, elapsed time.Duration) {
	c.evaluationsTotal.WithLabelValues(tree, kind.String()).Inc()
	c.evaluationDuration.WithLabelValues(tree).Observe(elapsed.Seconds())
}

// Middleware records every request under its chi route pattern, which keeps the
// label cardinality bounded by the number of routes.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		c.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
