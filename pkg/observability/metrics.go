package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Decision metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec

	// Resolver metrics
	ResolveDuration    *prometheus.HistogramVec
	ResolveErrorsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CacheRecomputesTotal prometheus.Counter
	CacheDegradedTotal   prometheus.Counter
	CacheEntries         prometheus.Gauge

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Scope inventory
	ScopesTotal prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Decision metrics
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpgate_decisions_total",
				Help: "Total number of access decisions",
			},
			[]string{"resource_kind", "outcome", "reason"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpgate_decision_duration_seconds",
				Help:    "Access decision duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2},
			},
			[]string{"resource_kind"},
		),

		// Resolver metrics
		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpgate_resolve_duration_seconds",
				Help:    "Permission resolution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		ResolveErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpgate_resolve_errors_total",
				Help: "Total number of permission resolution errors",
			},
			[]string{"error_type"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mcpgate_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mcpgate_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
		),
		CacheRecomputesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mcpgate_cache_recomputes_total",
				Help: "Total number of permission cache recomputations",
			},
		),
		CacheDegradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mcpgate_cache_degraded_total",
				Help: "Total number of degraded last-known-good cache servings",
			},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcpgate_cache_entries",
				Help: "Current number of permission cache entries",
			},
		),

		// Store metrics
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpgate_store_operations_total",
				Help: "Total number of scope store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpgate_store_operation_duration_seconds",
				Help:    "Scope store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		// Scope inventory
		ScopesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcpgate_scopes_total",
				Help: "Total number of scope documents",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.ResolveDuration,
		m.ResolveErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheRecomputesTotal,
		m.CacheDegradedTotal,
		m.CacheEntries,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.ScopesTotal,
	)

	return m
}

// RecordDecision records one access decision outcome
func (m *Metrics) RecordDecision(resourceKind string, allowed bool, reason string, elapsed time.Duration) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.DecisionsTotal.WithLabelValues(resourceKind, outcome, reason).Inc()
	m.DecisionDuration.WithLabelValues(resourceKind).Observe(elapsed.Seconds())
}

// RecordResolve records one permission resolution. errorType is empty on
// success and a classification such as "unavailable" or "timeout" otherwise.
func (m *Metrics) RecordResolve(errorType string, elapsed time.Duration) {
	status := "success"
	if errorType != "" {
		status = "error"
		m.ResolveErrorsTotal.WithLabelValues(errorType).Inc()
	}
	m.ResolveDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// RecordStoreOperation records one scope store operation
func (m *Metrics) RecordStoreOperation(operation, backend string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation, backend).Observe(elapsed.Seconds())
}

// UpdateCacheEntries reports the current permission cache entry count
func (m *Metrics) UpdateCacheEntries(entries int) {
	m.CacheEntries.Set(float64(entries))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
