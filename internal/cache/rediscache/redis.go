// Package rediscache implements a cache backend on Redis.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dinedir/restaurants/internal/cache"
)

// Compile-time check that Backend implements cache.Backend.
var _ cache.Backend = (*Backend)(nil)

// Config holds the connection settings.
type Config struct {
	Addr     string
	DB       int
	Password string
}

// Backend is a Redis cache backend.
type Backend struct {
	rdb redis.UniversalClient
}

// New creates a backend connected to cfg.Addr.
// The connection is established lazily; use Ping to check it.
func New(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("rediscache: address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &Backend{rdb: rdb}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb redis.UniversalClient) *Backend {
	return &Backend{rdb: rdb}
}

// Ping checks the connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Get retrieves the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cache.ErrMiss
		}
		return nil, fmt.Errorf("redis GET: %w", err)
	}
	return v, nil
}

// Set stores value under key. A ttl of zero keeps the key until deleted.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := b.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

// Close closes the client.
func (b *Backend) Close() error {
	return b.rdb.Close()
}
