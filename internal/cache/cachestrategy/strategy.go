// Package cachestrategy defines eviction strategy interfaces for the
// in-process cache backend.
package cachestrategy

import "time"

// Entry is a cached value with its expiry.
type Entry struct {
	Value []byte

	// ExpiresAt is the zero time for entries that never expire.
	ExpiresAt time.Time
}

// Expired reports whether e is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Strategy defines the interface for cache eviction strategies.
type Strategy interface {
	Get(key string) (Entry, bool)
	Add(key string, e Entry) bool
	Remove(key string) bool
	Len() int
}
