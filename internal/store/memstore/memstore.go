// Package memstore provides an in-memory store implementation for testing
// and local development.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/dinedir/restaurants/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is an in-memory store. Index queries scan all records.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.Record
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]store.Record),
	}
}

// Put stores r unconditionally (for test setup).
func (s *Store) Put(r store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Name] = r
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns the record stored under name.
func (s *Store) Get(ctx context.Context, name string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[name]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return r, nil
}

// Create stores r if its name is free.
func (s *Store) Create(ctx context.Context, r store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.Name]; ok {
		return store.ErrExists
	}
	s.records[r.Name] = r
	return nil
}

// Delete removes the record stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[name]; !ok {
		return store.ErrNotFound
	}
	delete(s.records, name)
	return nil
}

// UpdateRating sets rating and count if the stored count is expectedCount.
func (s *Store) UpdateRating(ctx context.Context, name string, rating float64, count, expectedCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[name]
	if !ok {
		return store.ErrNotFound
	}
	if r.RatingCount != expectedCount {
		return store.ErrConflict
	}
	r.Rating = rating
	r.RatingCount = count
	s.records[name] = r
	return nil
}

// Query scans all records for matches. Equal ratings are ordered by name.
func (s *Store) Query(ctx context.Context, q store.IndexQuery) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matches []store.Record
	for _, r := range s.records {
		if q.Cuisine != "" && r.Cuisine != q.Cuisine {
			continue
		}
		if q.Region != "" && r.Region != q.Region {
			continue
		}
		if r.Rating < q.MinRating {
			continue
		}
		matches = append(matches, r)
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Rating != matches[j].Rating {
			return matches[i].Rating > matches[j].Rating
		}
		return matches[i].Name < matches[j].Name
	})

	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}
