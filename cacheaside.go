package restaurants

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dinedir/restaurants/internal/cache"
	"github.com/dinedir/restaurants/internal/stats"
	"github.com/dinedir/restaurants/internal/store"
)

// cachedRestaurant returns the restaurant cached under key, if any.
func (c *Coordinator) cachedRestaurant(ctx context.Context, key string) (*Restaurant, bool) {
	var r Restaurant
	if !c.cachedValue(ctx, key, &r) {
		return nil, false
	}
	return &r, true
}

// cachedList returns the list cached under key, if any.
func (c *Coordinator) cachedList(ctx context.Context, key string) ([]Restaurant, bool) {
	var list []Restaurant
	if !c.cachedValue(ctx, key, &list) {
		return nil, false
	}
	return list, true
}

// cachedValue decodes the payload cached under key into v. Payloads that
// cannot be decoded are dropped and reported as misses.
func (c *Coordinator) cachedValue(ctx context.Context, key string, v any) bool {
	if c.cache == nil {
		return false
	}

	data, err := c.cacheGet(ctx, key)
	if err != nil {
		c.countLookup(false)
		return false
	}

	raw, err := c.codec.Decode(data)
	if err == nil {
		err = json.Unmarshal(raw, v)
	}
	if err != nil {
		c.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		c.uncache(ctx, key)
		c.countLookup(false)
		return false
	}
	c.countLookup(true)
	return true
}

// countLookup records the outcome of one cache lookup.
func (c *Coordinator) countLookup(hit bool) {
	if hit {
		c.hits.Add(1)
		c.stats.IncCounter(stats.MetricCacheHits, 1)
		return
	}
	c.misses.Add(1)
	c.stats.IncCounter(stats.MetricCacheMisses, 1)
}

// cacheValue encodes v and stores it under key. Failures are logged only.
func (c *Coordinator) cacheValue(ctx context.Context, key string, v any, ttl time.Duration) {
	if c.cache == nil {
		return
	}

	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("encoding cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	data, err := c.codec.Encode(raw)
	if err != nil {
		c.logger.Warn("compressing cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	_ = c.cacheSet(ctx, key, data, ttl)
}

// uncache deletes key from the cache. Failures are logged only.
func (c *Coordinator) uncache(ctx context.Context, key string) {
	if c.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.cacheTimeout)
	defer cancel()

	c.stats.IncCounter(stats.MetricCacheDeletes, 1)
	if err := c.cache.Delete(ctx, key); err != nil {
		c.errs.Add(1)
		c.stats.IncCounter(stats.MetricCacheErrors, 1)
		// A surviving entry serves stale data until its TTL passes.
		c.logger.Error("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// cacheGet reads key with the cache timeout applied. Errors other than
// cache.ErrMiss are logged and counted, and callers treat them as misses.
// Hits and misses are counted by the caller once the payload is judged.
func (c *Coordinator) cacheGet(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cacheTimeout)
	defer cancel()

	data, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, cache.ErrMiss):
		return nil, err
	default:
		c.errs.Add(1)
		c.stats.IncCounter(stats.MetricCacheErrors, 1)
		c.logger.Warn("cache get failed, falling back to store", zap.String("key", key), zap.Error(err))
		return nil, err
	}
}

// cacheSet writes key with the cache timeout applied.
func (c *Coordinator) cacheSet(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.cacheTimeout)
	defer cancel()

	c.stats.IncCounter(stats.MetricCacheWrites, 1)
	if err := c.cache.Set(ctx, key, data, ttl); err != nil {
		c.errs.Add(1)
		c.stats.IncCounter(stats.MetricCacheErrors, 1)
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// callStore runs fn once with the store timeout applied.
func (c *Coordinator) callStore(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	c.stats.IncCounter(stats.MetricStoreCalls, 1)
	err := fn(ctx)
	if err != nil && transient(err) {
		c.stats.IncCounter(stats.MetricStoreErrors, 1)
	}
	return err
}

// retry runs fn through callStore, retrying transient failures with
// exponential backoff. Only idempotent operations go through retry.
func (c *Coordinator) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retryAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := c.callStore(ctx, fn)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		c.stats.IncCounter(stats.MetricStoreRetries, 1)
		c.logger.Debug("retrying store call",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

// transient reports whether a store error may succeed on a later attempt.
func transient(err error) bool {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrExists),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
