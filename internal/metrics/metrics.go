// Package metrics provides Prometheus metrics for observability. Counter
// cache hit/miss accounting and flush durations live exclusively here as
// Prometheus series, never duplicated into the counter service's own
// status data model (which reports only the last flush time).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// RateLimitedTotal counts rate-limited requests.
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Total number of rate-limited requests",
		},
	)

	// ActiveConnections tracks current in-flight HTTP requests.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	// CounterIncrementsTotal counts accepted increment operations.
	CounterIncrementsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "counter_increments_total",
			Help: "Total number of visit-count increment operations accepted",
		},
	)

	// CounterReadsTotal counts get operations by the source that served them.
	CounterReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counter_reads_total",
			Help: "Total number of visit-count reads by source",
		},
		[]string{"source"},
	)

	// CounterCacheHitsTotal counts read-cache hits on the get path.
	CounterCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "counter_cache_hits_total",
			Help: "Total number of read-cache hits",
		},
	)

	// CounterCacheMissesTotal counts read-cache misses on the get path.
	CounterCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "counter_cache_misses_total",
			Help: "Total number of read-cache misses",
		},
	)

	// CounterBufferSize tracks the number of distinct keys currently held in
	// the write buffer.
	CounterBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "counter_buffer_size",
			Help: "Number of distinct keys currently pending in the write buffer",
		},
	)

	// CounterFlushDuration measures how long each write-buffer flush takes.
	CounterFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "counter_flush_duration_seconds",
			Help:    "Write-buffer flush duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// CounterShardHealth reports 1/0 health per shard.
	CounterShardHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "counter_shard_health",
			Help: "Shard health, 1 if healthy and 0 otherwise",
		},
		[]string{"shard"},
	)

	// CounterShardRetriesTotal counts retried shard operations.
	CounterShardRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counter_shard_retries_total",
			Help: "Total number of shard operation retries",
		},
		[]string{"shard"},
	)

	// ShardFallbackRoutesTotal counts routes that had to fall back away from
	// the primary shard because it was unhealthy.
	ShardFallbackRoutesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shard_fallback_routes_total",
			Help: "Total number of key routes that fell back off the primary shard",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request metric.
func RecordRequest(method, path string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateLimited records a rate-limited request.
func RecordRateLimited() {
	RateLimitedTotal.Inc()
}

// RecordIncrement records an accepted increment operation.
func RecordIncrement() {
	CounterIncrementsTotal.Inc()
}

// RecordRead records a get operation resolved from source.
func RecordRead(source string) {
	CounterReadsTotal.WithLabelValues(source).Inc()
}

// RecordCacheHit records a read-cache hit.
func RecordCacheHit() {
	CounterCacheHitsTotal.Inc()
}

// RecordCacheMiss records a read-cache miss.
func RecordCacheMiss() {
	CounterCacheMissesTotal.Inc()
}

// SetBufferSize reports the current write-buffer size.
func SetBufferSize(n int) {
	CounterBufferSize.Set(float64(n))
}

// RecordFlushDuration records how long a write-buffer flush took.
func RecordFlushDuration(d time.Duration) {
	CounterFlushDuration.Observe(d.Seconds())
}

// SetShardHealth reports shard as healthy or not.
func SetShardHealth(shard string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	CounterShardHealth.WithLabelValues(shard).Set(v)
}

// RecordShardRetry records a retried operation against shard.
func RecordShardRetry(shard string) {
	CounterShardRetriesTotal.WithLabelValues(shard).Inc()
}

// RecordFallbackRoute records a route that fell back off its primary shard.
func RecordFallbackRoute() {
	ShardFallbackRoutesTotal.Inc()
}
