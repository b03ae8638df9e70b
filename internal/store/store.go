// Package store defines the durable store interface for restaurant records.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists under the given name.
	ErrNotFound = errors.New("store: restaurant not found")

	// ErrExists is returned by Create when the name is already taken.
	ErrExists = errors.New("store: restaurant already exists")

	// ErrConflict is returned by UpdateRating when the record changed since
	// it was read.
	ErrConflict = errors.New("store: concurrent modification")
)

// Record is a restaurant as persisted by the store.
type Record struct {
	Name        string
	Cuisine     string
	Region      string
	Rating      float64
	RatingCount int
}

// IndexQuery selects records through a secondary index.
// Set Cuisine, Region, or both; the store picks the matching index.
type IndexQuery struct {
	Cuisine   string
	Region    string
	MinRating float64
	Limit     int
}

// Store defines the interface for durable store backends.
// Point operations are strongly consistent; index queries may lag behind.
type Store interface {
	// Get returns the record stored under name.
	Get(ctx context.Context, name string) (Record, error)

	// Create writes r only if no record exists under r.Name.
	// Returns ErrExists otherwise.
	Create(ctx context.Context, r Record) error

	// Delete removes the record stored under name.
	// Returns ErrNotFound if there is none.
	Delete(ctx context.Context, name string) error

	// UpdateRating sets rating and count on the record stored under name,
	// provided its current count equals expectedCount.
	// Returns ErrNotFound or ErrConflict.
	UpdateRating(ctx context.Context, name string, rating float64, count, expectedCount int) error

	// Query returns at most q.Limit records matching q with a rating of at
	// least q.MinRating, ordered by rating descending. Order among equal
	// ratings is backend specific.
	Query(ctx context.Context, q IndexQuery) ([]Record, error)

	// Close releases any resources held by the store.
	Close() error
}
