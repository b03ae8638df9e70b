// Package prometheus provides a Prometheus-based stats collector.
package prometheus

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dinedir/restaurants/internal/stats"
)

// help describes the metrics the service records. Unknown names use the
// name itself as help text.
var help = map[string]string{
	stats.MetricOperations:           "Coordinator operations started.",
	stats.MetricOperationErrors:      "Coordinator operations that returned an error.",
	stats.MetricStoreCalls:           "Calls made to the durable store.",
	stats.MetricStoreErrors:          "Store calls that failed with a dependency error.",
	stats.MetricStoreRetries:         "Store calls retried after a transient failure.",
	stats.MetricRatingConflicts:      "Rating updates that lost a concurrent modification race.",
	stats.MetricListInvalidation:     "Times cached list results were invalidated.",
	stats.MetricCacheHits:            "Cache lookups that found an entry.",
	stats.MetricCacheMisses:          "Cache lookups that found no usable entry.",
	stats.MetricCacheErrors:          "Cache calls that failed or timed out.",
	stats.MetricCacheWrites:          "Cache writes attempted.",
	stats.MetricCacheDeletes:         "Cache deletes attempted.",
	stats.MetricMemoryCacheSize:      "Entries held by the in-process cache.",
	stats.MetricMemoryCacheEvictions: "In-process cache entries dropped after their TTL.",
	stats.MetricHTTPRequests:         "HTTP requests served.",
	stats.MetricHTTPErrors:           "HTTP requests answered with a server error status.",
	stats.MetricHTTPLatency:          "HTTP request latency in seconds.",
	stats.MetricSeedCreated:          "Restaurants created by seeding.",
	stats.MetricSeedDuplicates:       "Seed records skipped because the restaurant existed.",
	stats.MetricSeedInvalid:          "Seed records rejected as invalid.",
}

// Collector implements stats.Collector using Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// New creates a new Prometheus collector.
// If registry is nil, a fresh registry carrying the Go runtime and process
// collectors is used.
func New(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &Collector{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Registry returns the registry metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registry in the Prometheus
// text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	getOrCreate(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: helpFor(name)})
	}).Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	getOrCreate(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: helpFor(name)})
	}).Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	getOrCreate(c, c.histograms, name, func() prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: prometheus.DefBuckets,
		})
	}).Observe(value)
}

// getOrCreate returns the metric registered under name, creating and
// registering it on first use. A metric registered elsewhere under the same
// name is adopted.
func getOrCreate[M prometheus.Collector](c *Collector, metrics map[string]M, name string, create func() M) M {
	c.mu.RLock()
	m, ok := metrics[name]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok = metrics[name]; ok {
		return m
	}

	m = create()
	if err := c.registry.Register(m); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(M); ok {
				m = existing
			}
		}
		// Otherwise the metric still works, it just is not exported.
	}
	metrics[name] = m
	return m
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}
