// Package restaurantsfx provides the parts of the restaurant directory that do
// not depend on the store backend: metrics, the cache and the coordinator.
// The store modules (dynamorestaurantsfx, memoryrestaurantsfx) include Core
// and add a store.Store.
package restaurantsfx

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/dinedir/restaurants"
	"github.com/dinedir/restaurants/internal/cache"
	"github.com/dinedir/restaurants/internal/cache/cachestrategy/lru"
	"github.com/dinedir/restaurants/internal/cache/memcached"
	"github.com/dinedir/restaurants/internal/cache/memory"
	"github.com/dinedir/restaurants/internal/cache/rediscache"
	"github.com/dinedir/restaurants/internal/codec"
	"github.com/dinedir/restaurants/internal/codec/gzipcodec"
	"github.com/dinedir/restaurants/internal/codec/noopcodec"
	"github.com/dinedir/restaurants/internal/codec/zstdcodec"
	"github.com/dinedir/restaurants/internal/config"
	"github.com/dinedir/restaurants/internal/stats"
	"github.com/dinedir/restaurants/internal/stats/logger"
	"github.com/dinedir/restaurants/internal/stats/prometheus"
	"github.com/dinedir/restaurants/internal/store"
)

// Core provides stats.Collector, the cache backend, the named "metrics"
// handler and *restaurants.Coordinator.
// Requires a *config.Config, a *zap.Logger and a store.Store.
var Core = fx.Provide(
	newStats,
	newCache,
	newCoordinator,
)

// StatsResult holds the metrics collector and, for Prometheus, the handler
// exposing it.
type StatsResult struct {
	fx.Out

	Collector stats.Collector
	Metrics   http.Handler `name:"metrics"`
}

func newStats(cfg *config.Config, log *zap.Logger) StatsResult {
	switch cfg.Metrics {
	case config.MetricsPrometheus:
		c := prometheus.New(nil)
		return StatsResult{Collector: c, Metrics: c.Handler()}
	case config.MetricsLog:
		return StatsResult{Collector: logger.New(log.Named("restaurants.stats"))}
	default:
		return StatsResult{Collector: stats.NewNoop()}
	}
}

// pinger is implemented by network cache backends.
type pinger interface {
	Ping(ctx context.Context) error
}

// CacheResult holds the cache backend. Backend is nil when caching is off.
type CacheResult struct {
	fx.Out

	Backend cache.Backend
}

func newCache(lc fx.Lifecycle, cfg *config.Config, collector stats.Collector, log *zap.Logger) (CacheResult, error) {
	if !cfg.UseCache {
		return CacheResult{}, nil
	}

	b, err := NewCacheBackend(cfg, collector)
	if err != nil {
		return CacheResult{}, err
	}

	if p, ok := b.(pinger); ok {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				// A cache that is down is tolerated; requests fall back to the store.
				if err := p.Ping(ctx); err != nil {
					log.Warn("cache unreachable at startup",
						zap.String("backend", cfg.CacheBackend),
						zap.Error(err),
					)
				}
				return nil
			},
		})
	}
	return CacheResult{Backend: b}, nil
}

// NewCacheBackend builds the cache backend named by cfg.CacheBackend.
func NewCacheBackend(cfg *config.Config, collector stats.Collector) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case config.CacheMemcached:
		b, err := memcached.New(cfg.MemcachedEndpoint)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.CacheRedis:
		b, err := rediscache.New(rediscache.Config{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.CacheMemory:
		strategy, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		return memory.New(strategy, collector), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// PayloadCodec returns the codec named by name: "none", "gzip" or "zstd".
func PayloadCodec(name string) (codec.Codec, error) {
	switch name {
	case "", "none":
		return noopcodec.New(), nil
	case "gzip":
		return gzipcodec.New(), nil
	case "zstd":
		c, err := zstdcodec.New()
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown payload codec %q", name)
	}
}

// Params holds dependencies for creating the coordinator.
type Params struct {
	fx.In

	Config    *config.Config
	Logger    *zap.Logger
	Collector stats.Collector
	Store     store.Store
	Cache     cache.Backend `optional:"true"`
	Lifecycle fx.Lifecycle
}

// Result holds the provided coordinator.
type Result struct {
	fx.Out

	Coordinator *restaurants.Coordinator
}

func newCoordinator(p Params) (Result, error) {
	payload, err := PayloadCodec(p.Config.PayloadCodec)
	if err != nil {
		return Result{}, err
	}

	opts := []restaurants.Option{
		restaurants.WithStore(p.Store),
		restaurants.WithCacheEnabled(p.Config.UseCache),
		restaurants.WithPayloadCodec(payload),
		restaurants.WithPointTTL(p.Config.PointTTL),
		restaurants.WithListTTL(p.Config.ListTTL),
		restaurants.WithCacheTimeout(p.Config.CacheTimeout),
		restaurants.WithStoreTimeout(p.Config.StoreTimeout),
		restaurants.WithListInvalidation(p.Config.ListInvalidation),
		restaurants.WithStats(p.Collector),
		restaurants.WithLogger(p.Logger.Named("restaurants")),
	}
	if p.Cache != nil {
		opts = append(opts, restaurants.WithCache(p.Cache))
	}

	coord, err := restaurants.New(opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return coord.Close()
		},
	})

	return Result{Coordinator: coord}, nil
}
