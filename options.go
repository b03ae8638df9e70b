package restaurants

import (
	"time"

	"go.uber.org/zap"

	"github.com/dinedir/restaurants/internal/cache"
	"github.com/dinedir/restaurants/internal/codec"
	"github.com/dinedir/restaurants/internal/codec/noopcodec"
	"github.com/dinedir/restaurants/internal/stats"
	"github.com/dinedir/restaurants/internal/store"
)

// Defaults applied by New.
const (
	DefaultPointTTL      = 5 * time.Minute
	DefaultListTTL       = time.Minute
	DefaultCacheTimeout  = 250 * time.Millisecond
	DefaultStoreTimeout  = 5 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultMinRating     = 0.0
	DefaultMaxRating     = 5.0
)

// Option configures a Coordinator.
type Option interface {
	apply(*options)
}

// options holds the coordinator configuration.
type options struct {
	store         store.Store
	cache         cache.Backend
	cacheEnabled  bool
	codec         codec.Codec
	pointTTL      time.Duration
	listTTL       time.Duration
	cacheTimeout  time.Duration
	storeTimeout  time.Duration
	retryAttempts int
	retryInterval time.Duration
	minRating     float64
	maxRating     float64
	listInvalid   bool
	stats         stats.Collector
	logger        *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		cacheEnabled:  true,
		codec:         noopcodec.New(),
		pointTTL:      DefaultPointTTL,
		listTTL:       DefaultListTTL,
		cacheTimeout:  DefaultCacheTimeout,
		storeTimeout:  DefaultStoreTimeout,
		retryAttempts: DefaultRetryAttempts,
		retryInterval: DefaultRetryInterval,
		minRating:     DefaultMinRating,
		maxRating:     DefaultMaxRating,
		stats:         stats.NewNoop(),
		logger:        zap.NewNop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithStore sets the durable store. Required.
func WithStore(s store.Store) Option {
	return optionFunc(func(o *options) {
		o.store = s
	})
}

// WithCache sets the cache backend.
// Without a cache backend every operation goes to the store.
func WithCache(b cache.Backend) Option {
	return optionFunc(func(o *options) {
		o.cache = b
	})
}

// WithCacheEnabled toggles cache use. When disabled the cache backend is
// never consulted, even if one was provided.
func WithCacheEnabled(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.cacheEnabled = enabled
	})
}

// WithPayloadCodec sets the codec applied to cached payloads.
// Default is no compression.
func WithPayloadCodec(c codec.Codec) Option {
	return optionFunc(func(o *options) {
		o.codec = c
	})
}

// WithPointTTL sets the freshness window of single-restaurant entries.
func WithPointTTL(ttl time.Duration) Option {
	return optionFunc(func(o *options) {
		o.pointTTL = ttl
	})
}

// WithListTTL sets the freshness window of list entries.
func WithListTTL(ttl time.Duration) Option {
	return optionFunc(func(o *options) {
		o.listTTL = ttl
	})
}

// WithCacheTimeout bounds every cache call. A call that times out counts as
// a miss.
func WithCacheTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.cacheTimeout = d
	})
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.storeTimeout = d
	})
}

// WithRetry sets how many times idempotent store reads and deletes are
// attempted, and the initial backoff interval between attempts.
func WithRetry(attempts int, interval time.Duration) Option {
	return optionFunc(func(o *options) {
		o.retryAttempts = attempts
		o.retryInterval = interval
	})
}

// WithRatingRange sets the accepted rating range, inclusive.
// Default is [0, 5].
func WithRatingRange(min, max float64) Option {
	return optionFunc(func(o *options) {
		o.minRating = min
		o.maxRating = max
	})
}

// WithListInvalidation makes every successful create, delete and rate
// invalidate all cached list results. When off, list results may include
// stale entries until their TTL expires.
func WithListInvalidation(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.listInvalid = enabled
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}
