// Package memory implements an in-process cache backend.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dinedir/restaurants/internal/cache"
	"github.com/dinedir/restaurants/internal/cache/cachestrategy"
	"github.com/dinedir/restaurants/internal/stats"
)

// Compile-time check that Backend implements cache.Backend.
var _ cache.Backend = (*Backend)(nil)

// Backend is a thread-safe in-process cache backend. Expired entries are
// dropped lazily when read.
type Backend struct {
	strategy  cachestrategy.Strategy
	collector stats.Collector
	now       func() time.Time

	hits    atomic.Int64
	misses  atomic.Int64
	expired atomic.Int64
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock replaces the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a new memory backend with the given eviction strategy.
// The collector is optional; if nil, a no-op collector is used.
func New(strategy cachestrategy.Strategy, collector stats.Collector, opts ...Option) *Backend {
	if collector == nil {
		collector = stats.NewNoop()
	}
	b := &Backend{
		strategy:  strategy,
		collector: collector,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get retrieves a value. Expired entries are removed and reported as misses.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e, ok := b.strategy.Get(key)
	if ok && e.Expired(b.now()) {
		b.strategy.Remove(key)
		b.expired.Add(1)
		b.collector.IncCounter(stats.MetricMemoryCacheEvictions, 1)
		b.collector.SetGauge(stats.MetricMemoryCacheSize, int64(b.strategy.Len()))
		ok = false
	}
	if !ok {
		b.misses.Add(1)
		return nil, cache.ErrMiss
	}

	b.hits.Add(1)
	return e.Value, nil
}

// Set stores a copy of value.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := cachestrategy.Entry{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.ExpiresAt = b.now().Add(ttl)
	}
	b.strategy.Add(key, e)
	b.collector.SetGauge(stats.MetricMemoryCacheSize, int64(b.strategy.Len()))
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.strategy.Remove(key)
	b.collector.SetGauge(stats.MetricMemoryCacheSize, int64(b.strategy.Len()))
	return nil
}

// Close is a no-op for the memory backend.
func (b *Backend) Close() error {
	return nil
}

// Stats returns current cache statistics.
func (b *Backend) Stats() cache.Stats {
	return cache.Stats{
		Hits:   b.hits.Load(),
		Misses: b.misses.Load(),
	}
}

// Expired returns how many entries were dropped because their TTL passed.
func (b *Backend) Expired() int64 {
	return b.expired.Load()
}

// Len returns the number of entries, including expired ones not yet dropped.
func (b *Backend) Len() int {
	return b.strategy.Len()
}
