package restaurants

import (
	"fmt"
	"math"
	"strings"

	"github.com/dinedir/restaurants/internal/store"
)

// List limits.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// Restaurant is a single directory entry.
type Restaurant struct {
	// Name uniquely identifies the restaurant.
	Name string `json:"name"`

	Cuisine string `json:"cuisine"`
	Region  string `json:"region"`

	// Rating is the mean of all submitted ratings.
	Rating float64 `json:"rating"`

	// RatingCount is the number of ratings that make up Rating.
	RatingCount int `json:"rating_count"`
}

// NewRestaurant holds the input of Coordinator.Create.
type NewRestaurant struct {
	Name    string
	Cuisine string
	Region  string

	// Rating is optional. Nil means 0.
	Rating *float64
}

// FilterKind selects the secondary index a list query runs against.
type FilterKind string

// Supported filter kinds.
const (
	FilterCuisine       FilterKind = "cuisine"
	FilterRegion        FilterKind = "region"
	FilterRegionCuisine FilterKind = "region_cuisine"
)

// ListQuery describes a filtered, rating-ordered list read.
type ListQuery struct {
	Kind    FilterKind
	Cuisine string
	Region  string

	// Limit is clamped to [1, MaxListLimit]. Zero means DefaultListLimit.
	Limit int

	// MinRating excludes restaurants rated below it.
	MinRating float64
}

// ByCuisine returns a query for restaurants serving cuisine.
func ByCuisine(cuisine string) ListQuery {
	return ListQuery{Kind: FilterCuisine, Cuisine: cuisine}
}

// ByRegion returns a query for restaurants in region.
func ByRegion(region string) ListQuery {
	return ListQuery{Kind: FilterRegion, Region: region}
}

// ByRegionAndCuisine returns a query for restaurants in region serving cuisine.
func ByRegionAndCuisine(region, cuisine string) ListQuery {
	return ListQuery{Kind: FilterRegionCuisine, Region: region, Cuisine: cuisine}
}

// WithLimit returns a copy of q with the given limit.
func (q ListQuery) WithLimit(limit int) ListQuery {
	q.Limit = limit
	return q
}

// WithMinRating returns a copy of q with the given minimum rating.
func (q ListQuery) WithMinRating(min float64) ListQuery {
	q.MinRating = min
	return q
}

// normalize validates q and applies defaults and clamping.
func (q ListQuery) normalize() (ListQuery, error) {
	q.Cuisine = strings.TrimSpace(q.Cuisine)
	q.Region = strings.TrimSpace(q.Region)

	switch q.Kind {
	case FilterCuisine:
		if q.Cuisine == "" {
			return q, fmt.Errorf("%w: cuisine is required", ErrInvalidArgument)
		}
		q.Region = ""
	case FilterRegion:
		if q.Region == "" {
			return q, fmt.Errorf("%w: region is required", ErrInvalidArgument)
		}
		q.Cuisine = ""
	case FilterRegionCuisine:
		if q.Region == "" || q.Cuisine == "" {
			return q, fmt.Errorf("%w: both region and cuisine are required", ErrInvalidArgument)
		}
	default:
		return q, fmt.Errorf("%w: unknown filter kind %q", ErrInvalidArgument, q.Kind)
	}

	switch {
	case q.Limit == 0:
		q.Limit = DefaultListLimit
	case q.Limit < 1:
		q.Limit = 1
	case q.Limit > MaxListLimit:
		q.Limit = MaxListLimit
	}

	if math.IsNaN(q.MinRating) || math.IsInf(q.MinRating, 0) {
		return q, fmt.Errorf("%w: minimum rating must be a finite number", ErrInvalidArgument)
	}
	if q.MinRating <= 0 {
		// Also folds -0 into 0 so both map to the same cache key.
		q.MinRating = 0
	}

	return q, nil
}

// indexQuery converts a normalized query to its store form.
func (q ListQuery) indexQuery() store.IndexQuery {
	return store.IndexQuery{
		Cuisine:   q.Cuisine,
		Region:    q.Region,
		MinRating: q.MinRating,
		Limit:     q.Limit,
	}
}

func fromRecord(r store.Record) *Restaurant {
	return &Restaurant{
		Name:        r.Name,
		Cuisine:     r.Cuisine,
		Region:      r.Region,
		Rating:      r.Rating,
		RatingCount: r.RatingCount,
	}
}
