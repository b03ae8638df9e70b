// Package restaurants provides a restaurant directory backed by a durable
// store, with an optional cache kept in front of it using the cache-aside
// pattern.
//
// Example usage:
//
//	dir, err := restaurants.New(
//	    restaurants.WithStore(st),
//	    restaurants.WithCache(backend),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dir.Close()
//
//	r, err := dir.Get(ctx, "Chez Panisse")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%s: %.2f\n", r.Name, r.Rating)
package restaurants

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dinedir/restaurants/internal/cache"
	"github.com/dinedir/restaurants/internal/codec"
	"github.com/dinedir/restaurants/internal/stats"
	"github.com/dinedir/restaurants/internal/store"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrInvalidArgument indicates missing or malformed input.
	ErrInvalidArgument = errors.New("restaurants: invalid argument")

	// ErrAlreadyExists indicates a restaurant with the same name exists.
	ErrAlreadyExists = errors.New("restaurants: restaurant already exists")

	// ErrNotFound indicates no restaurant matched.
	ErrNotFound = errors.New("restaurants: not found")

	// ErrDependencyFailure indicates the store failed or timed out.
	ErrDependencyFailure = errors.New("restaurants: dependency failure")

	// ErrClosed indicates the coordinator has been closed.
	ErrClosed = errors.New("restaurants: coordinator closed")

	// ErrNoStore indicates no store was provided.
	ErrNoStore = errors.New("restaurants: no store provided")
)

// maxRateAttempts bounds the optimistic read-modify-write loop of Rate.
const maxRateAttempts = 5

// Coordinator mediates every read and write between callers, the durable
// store and the cache. The store is the source of truth; cache failures are
// logged and treated as misses.
// A Coordinator is safe for concurrent use by multiple goroutines.
type Coordinator struct {
	store store.Store
	cache cache.Backend // nil when caching is off
	codec codec.Codec

	pointTTL      time.Duration
	listTTL       time.Duration
	cacheTimeout  time.Duration
	storeTimeout  time.Duration
	retryAttempts int
	retryInterval time.Duration
	minRating     float64
	maxRating     float64
	listInvalid   bool

	stats  stats.Collector
	logger *zap.Logger

	loads singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
	closed atomic.Bool
}

// New creates a new Coordinator with the given options.
// A store is required; everything else has defaults.
func New(opts ...Option) (*Coordinator, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.store == nil {
		return nil, ErrNoStore
	}
	if cfg.minRating > cfg.maxRating {
		return nil, fmt.Errorf("%w: rating range [%g, %g] is empty", ErrInvalidArgument, cfg.minRating, cfg.maxRating)
	}
	if cfg.retryAttempts < 1 {
		cfg.retryAttempts = 1
	}

	c := &Coordinator{
		store:         cfg.store,
		codec:         cfg.codec,
		pointTTL:      cfg.pointTTL,
		listTTL:       cfg.listTTL,
		cacheTimeout:  cfg.cacheTimeout,
		storeTimeout:  cfg.storeTimeout,
		retryAttempts: cfg.retryAttempts,
		retryInterval: cfg.retryInterval,
		minRating:     cfg.minRating,
		maxRating:     cfg.maxRating,
		listInvalid:   cfg.listInvalid,
		stats:         cfg.stats,
		logger:        cfg.logger,
	}
	if cfg.cacheEnabled {
		c.cache = cfg.cache
	}

	c.logger.Debug("coordinator initialized",
		zap.Bool("cacheEnabled", c.cache != nil),
		zap.String("payloadCodec", c.codec.Name()),
		zap.Duration("pointTTL", c.pointTTL),
		zap.Duration("listTTL", c.listTTL),
		zap.Bool("listInvalidation", c.listInvalid),
	)

	return c, nil
}

// Create adds a new restaurant. Returns ErrAlreadyExists if the name is
// taken, as seen by either the cache or the store.
func (c *Coordinator) Create(ctx context.Context, in NewRestaurant) (*Restaurant, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}

	r, err := c.validateNew(in)
	if err != nil {
		return nil, c.fail("create", err)
	}

	key := pointKey(r.Name)
	if _, ok := c.cachedRestaurant(ctx, key); ok {
		return nil, c.fail("create", ErrAlreadyExists)
	}

	existing, err := c.readRecord(ctx, r.Name)
	switch {
	case err == nil:
		// The cache lost this entry; put it back.
		c.cacheValue(ctx, key, fromRecord(existing), c.pointTTL)
		return nil, c.fail("create", ErrAlreadyExists)
	case !errors.Is(err, ErrNotFound):
		return nil, c.fail("create", err)
	}

	rec := store.Record{
		Name:    r.Name,
		Cuisine: r.Cuisine,
		Region:  r.Region,
		Rating:  r.Rating,
	}
	err = c.callStore(ctx, func(ctx context.Context) error {
		return c.store.Create(ctx, rec)
	})
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, c.fail("create", ErrAlreadyExists)
		}
		return nil, c.fail("create", storeError(ctx, "creating", r.Name, err))
	}

	c.cacheValue(ctx, key, r, c.pointTTL)
	c.invalidateLists(ctx)

	out := *r
	return &out, nil
}

// Get returns the restaurant stored under name. A cache hit does not touch
// the store. Concurrent misses for the same name share one store read.
func (c *Coordinator) Get(ctx context.Context, name string) (*Restaurant, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}

	name, err := validName(name)
	if err != nil {
		return nil, c.fail("get", err)
	}

	key := pointKey(name)
	if r, ok := c.cachedRestaurant(ctx, key); ok {
		return r, nil
	}

	v, err := c.load(ctx, key, func(ctx context.Context) (any, error) {
		rec, err := c.readRecord(ctx, name)
		if err != nil {
			return nil, err
		}
		r := fromRecord(rec)
		c.cacheValue(ctx, key, r, c.pointTTL)
		return r, nil
	})
	if err != nil {
		return nil, c.fail("get", err)
	}

	out := *v.(*Restaurant)
	return &out, nil
}

// Delete removes the restaurant stored under name. The cached copy is
// dropped first, whether or not the restaurant exists, and again once the
// store delete succeeds.
func (c *Coordinator) Delete(ctx context.Context, name string) error {
	if err := c.begin(); err != nil {
		return err
	}

	name, err := validName(name)
	if err != nil {
		return c.fail("delete", err)
	}

	c.uncache(ctx, pointKey(name))

	if _, err := c.readRecord(ctx, name); err != nil {
		return c.fail("delete", err)
	}

	attempt := 0
	err = c.retry(ctx, "delete", func(ctx context.Context) error {
		attempt++
		err := c.store.Delete(ctx, name)
		if errors.Is(err, store.ErrNotFound) && attempt > 1 {
			// An earlier attempt went through before failing.
			return nil
		}
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.fail("delete", fmt.Errorf("%w: restaurant %q", ErrNotFound, name))
		}
		return c.fail("delete", storeError(ctx, "deleting", name, err))
	}

	// A read that missed between the first drop and the store delete may
	// have cached the record again.
	c.uncache(ctx, pointKey(name))
	c.invalidateLists(ctx)
	return nil
}

// Rate submits a rating and returns the restaurant with its updated mean.
// The update is conditional on the rating count read beforehand, so
// concurrent ratings are never lost; a conflicting update is retried.
func (c *Coordinator) Rate(ctx context.Context, name string, rating float64) (*Restaurant, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}

	name, err := validName(name)
	if err != nil {
		return nil, c.fail("rate", err)
	}
	if err := c.validRating(rating); err != nil {
		return nil, c.fail("rate", err)
	}

	for attempt := 0; attempt < maxRateAttempts; attempt++ {
		rec, err := c.readRecord(ctx, name)
		if err != nil {
			return nil, c.fail("rate", err)
		}

		count := rec.RatingCount + 1
		mean := (rec.Rating*float64(rec.RatingCount) + rating) / float64(count)

		err = c.callStore(ctx, func(ctx context.Context) error {
			return c.store.UpdateRating(ctx, name, mean, count, rec.RatingCount)
		})
		switch {
		case err == nil:
			rec.Rating, rec.RatingCount = mean, count
			r := fromRecord(rec)
			c.cacheValue(ctx, pointKey(name), r, c.pointTTL)
			c.invalidateLists(ctx)
			return r, nil
		case errors.Is(err, store.ErrConflict):
			c.stats.IncCounter(stats.MetricRatingConflicts, 1)
			c.logger.Debug("rating conflict, retrying",
				zap.String("name", name),
				zap.Int("attempt", attempt+1),
			)
		case errors.Is(err, store.ErrNotFound):
			return nil, c.fail("rate", fmt.Errorf("%w: restaurant %q", ErrNotFound, name))
		default:
			return nil, c.fail("rate", storeError(ctx, "rating", name, err))
		}
	}

	return nil, c.fail("rate", fmt.Errorf("%w: rating %q: too many concurrent updates", ErrDependencyFailure, name))
}

// List returns restaurants matching q, best rated first. An empty result is
// reported as ErrNotFound. Cached results may miss changes made after they
// were cached, for at most the list TTL, unless list invalidation is on.
func (c *Coordinator) List(ctx context.Context, q ListQuery) ([]Restaurant, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}

	q, err := q.normalize()
	if err != nil {
		return nil, c.fail("list", err)
	}

	generation, cacheable := c.listGeneration(ctx)
	key := listKey(q, generation)
	if cacheable {
		if list, ok := c.cachedList(ctx, key); ok {
			return list, nil
		}
	}

	v, err := c.load(ctx, key, func(ctx context.Context) (any, error) {
		list, err := c.queryStore(ctx, q)
		if err != nil {
			return nil, err
		}
		if cacheable {
			c.cacheValue(ctx, key, list, c.listTTL)
		}
		return list, nil
	})
	if err != nil {
		return nil, c.fail("list", err)
	}

	list := v.([]Restaurant)
	return append([]Restaurant(nil), list...), nil
}

// Close releases all resources associated with the coordinator, including
// the store and the cache backend.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	var errs []error
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CacheEnabled reports whether the coordinator consults a cache.
func (c *Coordinator) CacheEnabled() bool {
	return c.cache != nil
}

// CacheStats returns cache statistics as seen by the coordinator.
func (c *Coordinator) CacheStats() cache.Stats {
	return cache.Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errs.Load(),
	}
}

func (c *Coordinator) begin() error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.stats.IncCounter(stats.MetricOperations, 1)
	return nil
}

func (c *Coordinator) fail(op string, err error) error {
	c.stats.IncCounter(stats.MetricOperationErrors, 1)
	if errors.Is(err, ErrDependencyFailure) {
		c.logger.Error("store failure", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (c *Coordinator) validateNew(in NewRestaurant) (*Restaurant, error) {
	r := &Restaurant{
		Name:    strings.TrimSpace(in.Name),
		Cuisine: strings.TrimSpace(in.Cuisine),
		Region:  strings.TrimSpace(in.Region),
	}
	if r.Name == "" || r.Cuisine == "" || r.Region == "" {
		return nil, fmt.Errorf("%w: name, cuisine and region are required", ErrInvalidArgument)
	}
	if in.Rating != nil {
		if err := c.validRating(*in.Rating); err != nil {
			return nil, err
		}
		r.Rating = *in.Rating
	}
	return r, nil
}

func (c *Coordinator) validRating(rating float64) error {
	if math.IsNaN(rating) || rating < c.minRating || rating > c.maxRating {
		return fmt.Errorf("%w: rating %v outside [%g, %g]", ErrInvalidArgument, rating, c.minRating, c.maxRating)
	}
	return nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: restaurant name is required", ErrInvalidArgument)
	}
	return name, nil
}

// storeError wraps a failed store call in ErrDependencyFailure. When the
// caller's own context ended first, the context error is returned instead.
func storeError(ctx context.Context, action, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %q: %w", action, name, ctxErr)
	}
	return fmt.Errorf("%w: %s %q: %w", ErrDependencyFailure, action, name, err)
}

// load runs fn once for all concurrent callers asking for key. fn does not
// inherit the first caller's cancellation, so one caller giving up cannot
// fail the others; each caller stops waiting when its own ctx is done.
// Store calls made by fn stay bounded by the store timeout.
func (c *Coordinator) load(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shared := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(key, func() (any, error) {
		return fn(shared)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readRecord reads name from the store, retrying transient failures.
func (c *Coordinator) readRecord(ctx context.Context, name string) (store.Record, error) {
	var rec store.Record
	err := c.retry(ctx, "get", func(ctx context.Context) error {
		var err error
		rec, err = c.store.Get(ctx, name)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Record{}, fmt.Errorf("%w: restaurant %q", ErrNotFound, name)
		}
		return store.Record{}, storeError(ctx, "reading", name, err)
	}
	return rec, nil
}

// queryStore runs q against the store's secondary indexes. The store's
// filtering and ordering are re-applied so that every backend yields the
// same shape; the sort is stable, keeping the store's order among ties.
func (c *Coordinator) queryStore(ctx context.Context, q ListQuery) ([]Restaurant, error) {
	var recs []store.Record
	err := c.retry(ctx, "query", func(ctx context.Context) error {
		var err error
		recs, err = c.store.Query(ctx, q.indexQuery())
		return err
	})
	if err != nil {
		return nil, storeError(ctx, "querying", string(q.Kind), err)
	}

	list := make([]Restaurant, 0, len(recs))
	for _, rec := range recs {
		if rec.Rating < q.MinRating {
			continue
		}
		list = append(list, *fromRecord(rec))
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Rating > list[j].Rating
	})
	if len(list) > q.Limit {
		list = list[:q.Limit]
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no restaurants match %s query", ErrNotFound, q.Kind)
	}
	return list, nil
}

// listGeneration returns the generation list keys are scoped to, and
// whether list results may be cached at all. Without list invalidation the
// generation is empty. If the generation cannot be read or created, list
// results bypass the cache.
func (c *Coordinator) listGeneration(ctx context.Context) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	if !c.listInvalid {
		return "", true
	}

	data, err := c.cacheGet(ctx, listGenerationKey)
	c.countLookup(err == nil)
	if err == nil {
		return string(data), true
	}
	if !errors.Is(err, cache.ErrMiss) {
		return "", false
	}

	generation := uuid.NewString()
	if err := c.cacheSet(ctx, listGenerationKey, []byte(generation), 0); err != nil {
		return "", false
	}
	return generation, true
}

// invalidateLists moves list keys to a fresh generation, orphaning every
// previously cached list result.
func (c *Coordinator) invalidateLists(ctx context.Context) {
	if c.cache == nil || !c.listInvalid {
		return
	}
	if err := c.cacheSet(ctx, listGenerationKey, []byte(uuid.NewString()), 0); err != nil {
		// Old generation stays readable; entries expire by TTL.
		return
	}
	c.stats.IncCounter(stats.MetricListInvalidation, 1)
}
