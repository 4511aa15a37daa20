package observability

import (
	"database/sql"
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

	// Permission evaluation metrics
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Workflow metrics
	VerificationTransitionsTotal *prometheus.CounterVec
	VerificationsOverdueTotal    *prometheus.CounterVec

	// Bootstrap metrics
	BootstrapRunsTotal *prometheus.CounterVec

	// Storage metrics
	StorageErrorsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWait   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinaka_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pinaka_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinaka_rbac_evaluations_total",
				Help: "Total number of permission evaluations by effect",
			},
			[]string{"effect"},
		),
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pinaka_rbac_evaluation_duration_seconds",
				Help:    "Permission evaluation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
			},
			[]string{"category"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinaka_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinaka_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinaka_cache_errors_total",
				Help: "Total number of cache backend errors",
			},
			[]string{"cache_type", "operation"},
		),

		VerificationTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinaka_verification_transitions_total",
				Help: "Total number of verification workflow transitions",
			},
			[]string{"type", "action"},
		),
		VerificationsOverdueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinaka_verifications_overdue_total",
				Help: "Total number of overdue verifications handed to the escalation handler",
			},
			[]string{"type"},
		),

		BootstrapRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinaka_bootstrap_runs_total",
				Help: "Total number of RBAC bootstrap runs by result",
			},
			[]string{"result"},
		),

		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinaka_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"component", "operation"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pinaka_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pinaka_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pinaka_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.VerificationTransitionsTotal,
		m.VerificationsOverdueTotal,
		m.BootstrapRunsTotal,
		m.StorageErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWait,
	)

	return m
}

// RecordEvaluation counts one permission decision
func (m *Metrics) RecordEvaluation(effect, category string, took time.Duration) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(effect).Inc()
	m.EvaluationDuration.WithLabelValues(category).Observe(took.Seconds())
}

// RecordCacheHit counts a cache hit
func (m *Metrics) RecordCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts a cache miss
func (m *Metrics) RecordCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheError counts a cache backend failure
func (m *Metrics) RecordCacheError(cacheType, operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(cacheType, operation).Inc()
}

// RecordTransition counts a verification state change
func (m *Metrics) RecordTransition(verificationType, action string) {
	if m == nil {
		return
	}
	m.VerificationTransitionsTotal.WithLabelValues(verificationType, action).Inc()
}

// RecordOverdue counts an overdue verification
func (m *Metrics) RecordOverdue(verificationType string) {
	if m == nil {
		return
	}
	m.VerificationsOverdueTotal.WithLabelValues(verificationType).Inc()
}

// RecordBootstrap counts a bootstrap outcome
func (m *Metrics) RecordBootstrap(result string) {
	if m == nil {
		return
	}
	m.BootstrapRunsTotal.WithLabelValues(result).Inc()
}

// RecordStorageError counts a backing-store failure
func (m *Metrics) RecordStorageError(component, operation string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(component, operation).Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWait.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathFn maps a request to a low-cardinality label; the raw URL path is used when nil.
func HTTPMetricsMiddleware(metrics *Metrics, pathFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathFn != nil {
				path = pathFn(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
