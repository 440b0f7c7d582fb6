package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP layer metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "burrow_http_requests_total",
		Help: "Total number of HTTP requests by method and status",
	},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "burrow_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"method", "route"},
	)

	// Catalog metrics
	NodesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "burrow_catalog_nodes_total",
		Help: "Total number of nodes in the catalog",
	},
	)

	CatalogQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "burrow_catalog_query_duration_seconds",
		Help:    "Time taken to execute a catalog query in seconds",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"operation"},
	)

	AdapterConstructionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "burrow_adapter_constructions_total",
		Help: "Total number of adapter constructions by mimetype and outcome",
	},
		[]string{"mimetype", "outcome"},
	)

	// Auth metrics
	AuthAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "burrow_auth_attempts_total",
		Help: "Total number of authentication attempts by provider and outcome",
	},
		[]string{"provider", "outcome"},
	)

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "burrow_sessions_active",
		Help: "Number of unrevoked, unexpired sessions",
	},
	)

	TokenRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "burrow_token_refreshes_total",
		Help: "Total number of refresh-token exchanges by outcome",
	},
		[]string{"outcome"},
	)

	// Access-policy metrics
	PolicyCompileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "burrow_policy_compile_duration_seconds",
		Help:    "Time taken to compile the tag-based access policy in seconds",
		Buckets: prometheus.DefBuckets,
	},
	)

	PolicyCompileFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_policy_compile_failures_total",
		Help: "Total number of failed policy compilations",
	},
	)

	// Background scheduler metrics
	SchedulingLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "burrow_scheduler_task_latency_seconds",
		Help:    "Time taken to run a scheduled background task in seconds",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"task"},
	)

	TasksSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "burrow_scheduler_tasks_skipped_total",
		Help: "Total number of scheduled task cycles skipped (caught up or still in flight)",
	},
		[]string{"task", "reason"},
	)

	// Cache and compression metrics
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_object_cache_hits_total",
		Help: "Total number of object cache hits",
	},
	)

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_object_cache_misses_total",
		Help: "Total number of object cache misses",
	},
	)

	CompressionRatio = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "burrow_compression_ratio",
		Help:    "Ratio of uncompressed to compressed response body size",
		Buckets: []float64{1, 1.11, 1.5, 2, 3, 5, 10},
	},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal,
		HTTPRequestDuration,
		NodesTotal,
		CatalogQueryDuration,
		AdapterConstructionsTotal,
		AuthAttemptsTotal,
		SessionsActive,
		TokenRefreshesTotal,
		PolicyCompileDuration,
		PolicyCompileFailuresTotal,
		SchedulingLatency,
		TasksSkippedTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CompressionRatio,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
