// Package memcached implements a cache backend on a memcached cluster.
package memcached

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/dinedir/restaurants/internal/cache"
)

// maxRelativeExpiry is the longest TTL memcached accepts as a relative
// number of seconds. Longer TTLs are sent as absolute Unix times.
const maxRelativeExpiry = 30 * 24 * time.Hour

// DefaultTimeout bounds every socket operation of the client.
const DefaultTimeout = 500 * time.Millisecond

// Compile-time check that Backend implements cache.Backend.
var _ cache.Backend = (*Backend)(nil)

// Client is the subset of the gomemcache client used by Backend.
type Client interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
	Ping() error
	Close() error
}

// Backend is a memcached cache backend.
type Backend struct {
	client Client
	now    func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithClient replaces the memcached client.
func WithClient(c Client) Option {
	return func(b *Backend) {
		b.client = c
	}
}

// WithClock replaces the time source used for absolute expiry times.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a backend for the servers listed in endpoint, separated by
// commas (e.g., "cache-1:11211,cache-2:11211"). Keys are spread over the
// servers by the client.
func New(endpoint string, opts ...Option) (*Backend, error) {
	servers := ParseServers(endpoint)
	b := &Backend{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	if b.client != nil {
		return b, nil
	}

	if len(servers) == 0 {
		return nil, errors.New("memcached: no servers in endpoint")
	}
	c := memcache.New(servers...)
	c.Timeout = DefaultTimeout
	b.client = c
	return b, nil
}

// ParseServers splits a comma-separated endpoint into server addresses.
// Addresses without a port get the memcached default port.
func ParseServers(endpoint string) []string {
	var servers []string
	for _, s := range strings.Split(endpoint, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, ":") {
			s += ":11211"
		}
		servers = append(servers, s)
	}
	return servers
}

// Get retrieves the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	var item *memcache.Item
	err := b.do(ctx, func() error {
		var err error
		item, err = b.client.Get(key)
		return err
	})
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, cache.ErrMiss
		}
		return nil, fmt.Errorf("memcached get: %w", err)
	}
	return item.Value, nil
}

// Set stores value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := &memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: b.expiration(ttl),
	}
	if err := b.do(ctx, func() error { return b.client.Set(item) }); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

// Delete removes key. A missing key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	err := b.do(ctx, func() error { return b.client.Delete(key) })
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("memcached delete: %w", err)
	}
	return nil
}

// Ping checks that every server is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	return b.do(ctx, b.client.Ping)
}

// Close closes idle connections.
func (b *Backend) Close() error {
	return b.client.Close()
}

// expiration converts ttl to memcached's expiry encoding. Sub-second TTLs
// round up to one second so they do not turn into "never expires".
func (b *Backend) expiration(ttl time.Duration) int32 {
	switch {
	case ttl <= 0:
		return 0
	case ttl > maxRelativeExpiry:
		return int32(b.now().Add(ttl).Unix())
	}
	secs := int32(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}

// do runs fn, returning early if ctx is done first. The gomemcache client
// takes no context; an abandoned call finishes within the client timeout.
func (b *Backend) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
