// Package lru implements an LRU cache eviction strategy.
package lru

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dinedir/restaurants/internal/cache/cachestrategy"
)

// Compile-time check that Strategy implements cachestrategy.Strategy.
var _ cachestrategy.Strategy = (*Strategy)(nil)

// Strategy implements LRU eviction.
type Strategy struct {
	cache *lru.Cache[string, cachestrategy.Entry]
}

// New creates a new LRU strategy holding at most capacity entries.
func New(capacity int) (*Strategy, error) {
	c, err := lru.New[string, cachestrategy.Entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Strategy{cache: c}, nil
}

// Get retrieves an entry and marks it recently used.
func (s *Strategy) Get(key string) (cachestrategy.Entry, bool) {
	return s.cache.Get(key)
}

// Add stores an entry. Reports whether an older entry was evicted.
func (s *Strategy) Add(key string, e cachestrategy.Entry) bool {
	return s.cache.Add(key, e)
}

// Remove deletes an entry. Reports whether it was present.
func (s *Strategy) Remove(key string) bool {
	return s.cache.Remove(key)
}

// Len returns the number of entries in the cache.
func (s *Strategy) Len() int {
	return s.cache.Len()
}
