// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the service.
const (
	// Coordinator metrics.
	MetricOperations       = "restaurants_operations_total"
	MetricOperationErrors  = "restaurants_operation_errors_total"
	MetricStoreCalls       = "restaurants_store_calls_total"
	MetricStoreErrors      = "restaurants_store_errors_total"
	MetricStoreRetries     = "restaurants_store_retries_total"
	MetricRatingConflicts  = "restaurants_rating_conflicts_total"
	MetricListInvalidation = "restaurants_list_invalidations_total"

	// Cache metrics, recorded by the coordinator.
	MetricCacheHits    = "restaurants_cache_hits_total"
	MetricCacheMisses  = "restaurants_cache_misses_total"
	MetricCacheErrors  = "restaurants_cache_errors_total"
	MetricCacheWrites  = "restaurants_cache_writes_total"
	MetricCacheDeletes = "restaurants_cache_deletes_total"

	// In-process cache backend metrics.
	MetricMemoryCacheSize      = "restaurants_memory_cache_entries"
	MetricMemoryCacheEvictions = "restaurants_memory_cache_expired_total"

	// HTTP metrics.
	MetricHTTPRequests = "restaurants_http_requests_total"
	MetricHTTPErrors   = "restaurants_http_errors_total"
	MetricHTTPLatency  = "restaurants_http_request_duration_seconds"

	// Seeding metrics.
	MetricSeedCreated    = "restaurants_seed_created_total"
	MetricSeedDuplicates = "restaurants_seed_duplicates_total"
	MetricSeedInvalid    = "restaurants_seed_invalid_total"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
