package restaurants

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dinedir/restaurants/internal/cache"
	"github.com/dinedir/restaurants/internal/cache/cachestrategy/lru"
	"github.com/dinedir/restaurants/internal/cache/memory"
	"github.com/dinedir/restaurants/internal/codec/gzipcodec"
	"github.com/dinedir/restaurants/internal/stats"
	"github.com/dinedir/restaurants/internal/store"
	"github.com/dinedir/restaurants/internal/store/memstore"
)

// countingStore wraps a store and counts calls per operation.
type countingStore struct {
	store.Store

	gets, creates, deletes, updates, queries atomic.Int64

	// getErrs and updateErrs are returned, in order, before delegating.
	mu         sync.Mutex
	getErrs    []error
	updateErrs []error
}

func (s *countingStore) Get(ctx context.Context, name string) (store.Record, error) {
	s.gets.Add(1)
	if err := s.pop(&s.getErrs); err != nil {
		return store.Record{}, err
	}
	return s.Store.Get(ctx, name)
}

func (s *countingStore) Create(ctx context.Context, r store.Record) error {
	s.creates.Add(1)
	return s.Store.Create(ctx, r)
}

func (s *countingStore) Delete(ctx context.Context, name string) error {
	s.deletes.Add(1)
	return s.Store.Delete(ctx, name)
}

func (s *countingStore) UpdateRating(ctx context.Context, name string, rating float64, count, expected int) error {
	s.updates.Add(1)
	if err := s.pop(&s.updateErrs); err != nil {
		return err
	}
	return s.Store.UpdateRating(ctx, name, rating, count, expected)
}

func (s *countingStore) Query(ctx context.Context, q store.IndexQuery) ([]store.Record, error) {
	s.queries.Add(1)
	return s.Store.Query(ctx, q)
}

func (s *countingStore) pop(errs *[]error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *countingStore) calls() int64 {
	return s.gets.Load() + s.creates.Load() + s.deletes.Load() + s.updates.Load() + s.queries.Load()
}

func (s *countingStore) reset() {
	s.gets.Store(0)
	s.creates.Store(0)
	s.deletes.Store(0)
	s.updates.Store(0)
	s.queries.Store(0)
}

// brokenCache fails every call, or records them when err is nil.
type brokenCache struct {
	err   error
	calls atomic.Int64
}

func (b *brokenCache) Get(ctx context.Context, key string) ([]byte, error) {
	b.calls.Add(1)
	if b.err == nil {
		return nil, cache.ErrMiss
	}
	return nil, b.err
}

func (b *brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.calls.Add(1)
	return b.err
}

func (b *brokenCache) Delete(ctx context.Context, key string) error {
	b.calls.Add(1)
	return b.err
}

func (b *brokenCache) Close() error { return nil }

// slowCache blocks every call until the context is done.
type slowCache struct{}

func (slowCache) Get(ctx context.Context, key string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowCache) Delete(ctx context.Context, key string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowCache) Close() error { return nil }

func newMemoryCache(t *testing.T) *memory.Backend {
	t.Helper()
	strategy, err := lru.New(128)
	if err != nil {
		t.Fatalf("lru.New() error = %v", err)
	}
	return memory.New(strategy, nil)
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *countingStore) {
	t.Helper()
	st := &countingStore{Store: memstore.New()}
	opts = append([]Option{
		WithStore(st),
		WithCache(newMemoryCache(t)),
		WithRetry(3, time.Millisecond),
	}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, st
}

func ptr(f float64) *float64 { return &f }

func TestNew_RequiresStore(t *testing.T) {
	_, err := New()
	if !errors.Is(err, ErrNoStore) {
		t.Errorf("New() error = %v, want ErrNoStore", err)
	}
}

func TestNew_EmptyRatingRange(t *testing.T) {
	_, err := New(WithStore(memstore.New()), WithRatingRange(5, 1))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("New() error = %v, want ErrInvalidArgument", err)
	}
}

func TestCoordinator_CreateThenGet(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	created, err := c.Create(ctx, NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Rating != 0 || created.RatingCount != 0 {
		t.Errorf("Create() rating = %v/%d, want 0/0", created.Rating, created.RatingCount)
	}

	got, err := c.Get(ctx, "Nopa")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := Restaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"}
	if *got != want {
		t.Errorf("Get() = %+v, want %+v", *got, want)
	}
}

func TestCoordinator_CreateWithRating(t *testing.T) {
	c, _ := newTestCoordinator(t)

	got, err := c.Create(context.Background(), NewRestaurant{
		Name: "Zuni", Cuisine: "Mediterranean", Region: "SF", Rating: ptr(4.5),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got.Rating != 4.5 || got.RatingCount != 0 {
		t.Errorf("Create() rating = %v/%d, want 4.5/0", got.Rating, got.RatingCount)
	}
}

func TestCoordinator_CreateDuplicate(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
	}{
		{"cached", true},
		{"uncached", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, st := newTestCoordinator(t, WithCacheEnabled(tt.enabled))
			ctx := context.Background()
			in := NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"}

			if _, err := c.Create(ctx, in); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			_, err := c.Create(ctx, in)
			if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("Create() second call error = %v, want ErrAlreadyExists", err)
			}
			if got := st.creates.Load(); got != 1 {
				t.Errorf("store creates = %d, want 1", got)
			}
		})
	}
}

func TestCoordinator_CreateLostRace(t *testing.T) {
	st := &raceStore{Store: memstore.New()}
	c, err := New(WithStore(st), WithCache(newMemoryCache(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	_, err = c.Create(context.Background(), NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Create() error = %v, want ErrAlreadyExists", err)
	}
}

// raceStore reports every Create as losing to a concurrent writer.
type raceStore struct {
	store.Store
}

func (raceStore) Create(ctx context.Context, r store.Record) error {
	return store.ErrExists
}

func TestCoordinator_InvalidArguments(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"create without name", func() error {
			_, err := c.Create(ctx, NewRestaurant{Cuisine: "Thai", Region: "SF"})
			return err
		}},
		{"create without cuisine", func() error {
			_, err := c.Create(ctx, NewRestaurant{Name: "Kin Khao", Region: "SF"})
			return err
		}},
		{"create without region", func() error {
			_, err := c.Create(ctx, NewRestaurant{Name: "Kin Khao", Cuisine: "Thai"})
			return err
		}},
		{"create rating too high", func() error {
			_, err := c.Create(ctx, NewRestaurant{Name: "Kin Khao", Cuisine: "Thai", Region: "SF", Rating: ptr(7)})
			return err
		}},
		{"get blank name", func() error {
			_, err := c.Get(ctx, "  ")
			return err
		}},
		{"delete blank name", func() error {
			return c.Delete(ctx, "")
		}},
		{"rate negative", func() error {
			_, err := c.Rate(ctx, "Kin Khao", -1)
			return err
		}},
		{"rate NaN", func() error {
			_, err := c.Rate(ctx, "Kin Khao", math.NaN())
			return err
		}},
		{"list unknown kind", func() error {
			_, err := c.List(ctx, ListQuery{Kind: "price"})
			return err
		}},
		{"list without cuisine", func() error {
			_, err := c.List(ctx, ByCuisine(""))
			return err
		}},
		{"list infinite min rating", func() error {
			_, err := c.List(ctx, ByRegion("SF").WithMinRating(math.Inf(1)))
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if got := st.calls(); got != 0 {
		t.Errorf("store calls = %d, want 0", got)
	}
}

func TestCoordinator_GetCacheHitSkipsStore(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.Create(ctx, NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	st.reset()

	for i := 0; i < 3; i++ {
		if _, err := c.Get(ctx, "Nopa"); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	if got := st.calls(); got != 0 {
		t.Errorf("store calls = %d, want 0", got)
	}
	if got := c.CacheStats().Hits; got != 3 {
		t.Errorf("CacheStats().Hits = %d, want 3", got)
	}
}

func TestCoordinator_GetMissPopulatesCache(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	st.Store.(*memstore.Store).Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF", Rating: 4})

	for i := 0; i < 2; i++ {
		got, err := c.Get(ctx, "Nopa")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Rating != 4 {
			t.Errorf("Get().Rating = %v, want 4", got.Rating)
		}
	}

	if got := st.gets.Load(); got != 1 {
		t.Errorf("store gets = %d, want 1", got)
	}
}

func TestCoordinator_GetNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, err := c.Get(context.Background(), "Nowhere")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestCoordinator_CacheDisabledNeverConsulted(t *testing.T) {
	backend := &brokenCache{}
	st := &countingStore{Store: memstore.New()}
	c, err := New(WithStore(st), WithCache(backend), WithCacheEnabled(false))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if c.CacheEnabled() {
		t.Error("CacheEnabled() = true, want false")
	}
	if _, err := c.Create(ctx, NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := c.Get(ctx, "Nopa"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := c.Rate(ctx, "Nopa", 3); err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if _, err := c.List(ctx, ByRegion("SF")); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if err := c.Delete(ctx, "Nopa"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if got := backend.calls.Load(); got != 0 {
		t.Errorf("cache calls = %d, want 0", got)
	}
}

func TestCoordinator_CacheFailuresFallBackToStore(t *testing.T) {
	tests := []struct {
		name    string
		backend cache.Backend
	}{
		{"errors", &brokenCache{err: errors.New("connection refused")}},
		{"timeouts", slowCache{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCoordinator(t, WithCache(tt.backend), WithCacheTimeout(5*time.Millisecond))
			ctx := context.Background()

			if _, err := c.Create(ctx, NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"}); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if _, err := c.Get(ctx, "Nopa"); err != nil {
				t.Errorf("Get() error = %v", err)
			}
			if _, err := c.Rate(ctx, "Nopa", 5); err != nil {
				t.Errorf("Rate() error = %v", err)
			}
			if _, err := c.List(ctx, ByCuisine("Californian")); err != nil {
				t.Errorf("List() error = %v", err)
			}
			if err := c.Delete(ctx, "Nopa"); err != nil {
				t.Errorf("Delete() error = %v", err)
			}
			if c.CacheStats().Errors == 0 {
				t.Error("CacheStats().Errors = 0, want failures counted")
			}
		})
	}
}

func TestCoordinator_CorruptCacheEntryIsMiss(t *testing.T) {
	backend := newMemoryCache(t)
	c, st := newTestCoordinator(t, WithCache(backend))
	ctx := context.Background()
	st.Store.(*memstore.Store).Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF"})

	if err := backend.Set(ctx, pointKey("Nopa"), []byte("{not json"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := c.Get(ctx, "Nopa")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Nopa" {
		t.Errorf("Get().Name = %q, want Nopa", got.Name)
	}
	if st.gets.Load() != 1 {
		t.Errorf("store gets = %d, want 1", st.gets.Load())
	}
}

func TestCoordinator_CorruptCacheEntryCountedOnce(t *testing.T) {
	backend := newMemoryCache(t)
	collector := newRecordingCollector()
	c, st := newTestCoordinator(t, WithCache(backend), WithStats(collector))
	ctx := context.Background()
	st.Store.(*memstore.Store).Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF"})

	if err := backend.Set(ctx, pointKey("Nopa"), []byte("{not json"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := c.Get(ctx, "Nopa"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	cs := c.CacheStats()
	if cs.Hits != 0 || cs.Misses != 1 {
		t.Errorf("CacheStats() = %+v, want 0 hits and 1 miss", cs)
	}
	if got := collector.counter(stats.MetricCacheHits); got != cs.Hits {
		t.Errorf("%s = %d, want %d", stats.MetricCacheHits, got, cs.Hits)
	}
	if got := collector.counter(stats.MetricCacheMisses); got != cs.Misses {
		t.Errorf("%s = %d, want %d", stats.MetricCacheMisses, got, cs.Misses)
	}
}

// recordingCollector keeps counter totals in memory.
type recordingCollector struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{counters: make(map[string]int64)}
}

func (r *recordingCollector) IncCounter(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

func (r *recordingCollector) SetGauge(string, int64) {}

func (r *recordingCollector) ObserveHistogram(string, float64) {}

func (r *recordingCollector) counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func TestCoordinator_PayloadCodec(t *testing.T) {
	c, st := newTestCoordinator(t, WithPayloadCodec(gzipcodec.New()))
	ctx := context.Background()

	if _, err := c.Create(ctx, NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	st.reset()

	got, err := c.Get(ctx, "Nopa")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Cuisine != "Californian" {
		t.Errorf("Get().Cuisine = %q, want Californian", got.Cuisine)
	}
	if st.calls() != 0 {
		t.Errorf("store calls = %d, want 0", st.calls())
	}
}

func TestCoordinator_Delete(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.Create(ctx, NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := c.Delete(ctx, "Nopa"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := c.Get(ctx, "Nopa"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := c.Delete(ctx, "Nopa"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() second call error = %v, want ErrNotFound", err)
	}
}

func TestCoordinator_DeleteDropsEntryCachedDuringDelete(t *testing.T) {
	st := &readBeforeDeleteStore{Store: memstore.New()}
	st.Store.(*memstore.Store).Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF"})
	c, err := New(WithStore(st), WithCache(newMemoryCache(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	// A reader misses after the first cache drop and caches the record
	// just before the store delete lands.
	st.before = func() {
		if _, err := c.Get(ctx, "Nopa"); err != nil {
			t.Errorf("concurrent Get() error = %v", err)
		}
	}

	if err := c.Delete(ctx, "Nopa"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := c.Get(ctx, "Nopa"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

// readBeforeDeleteStore runs before ahead of every Delete.
type readBeforeDeleteStore struct {
	store.Store
	before func()
}

func (s *readBeforeDeleteStore) Delete(ctx context.Context, name string) error {
	if s.before != nil {
		s.before()
	}
	return s.Store.Delete(ctx, name)
}

func TestCoordinator_RateRunningMean(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.Create(ctx, NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	steps := []struct {
		rating    float64
		wantMean  float64
		wantCount int
	}{
		{4, 4, 1},
		{2, 3, 2},
		{5, 11.0 / 3, 3},
	}
	for _, s := range steps {
		got, err := c.Rate(ctx, "Nopa", s.rating)
		if err != nil {
			t.Fatalf("Rate(%v) error = %v", s.rating, err)
		}
		if math.Abs(got.Rating-s.wantMean) > 1e-9 || got.RatingCount != s.wantCount {
			t.Errorf("Rate(%v) = %v/%d, want %v/%d", s.rating, got.Rating, got.RatingCount, s.wantMean, s.wantCount)
		}
	}

	got, err := c.Get(ctx, "Nopa")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RatingCount != 3 {
		t.Errorf("Get().RatingCount = %d, want 3", got.RatingCount)
	}
}

func TestCoordinator_RateNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, err := c.Rate(context.Background(), "Nowhere", 3)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Rate() error = %v, want ErrNotFound", err)
	}
}

func TestCoordinator_RateRetriesConflicts(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	st.Store.(*memstore.Store).Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF", Rating: 2, RatingCount: 1})
	st.updateErrs = []error{store.ErrConflict, store.ErrConflict}

	got, err := c.Rate(ctx, "Nopa", 4)
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if got.Rating != 3 || got.RatingCount != 2 {
		t.Errorf("Rate() = %v/%d, want 3/2", got.Rating, got.RatingCount)
	}
	if st.updates.Load() != 3 {
		t.Errorf("store updates = %d, want 3", st.updates.Load())
	}
}

func TestCoordinator_RateGivesUpAfterConflicts(t *testing.T) {
	c, st := newTestCoordinator(t)
	st.Store.(*memstore.Store).Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF"})
	for i := 0; i < maxRateAttempts; i++ {
		st.updateErrs = append(st.updateErrs, store.ErrConflict)
	}

	_, err := c.Rate(context.Background(), "Nopa", 4)
	if !errors.Is(err, ErrDependencyFailure) {
		t.Errorf("Rate() error = %v, want ErrDependencyFailure", err)
	}
}

func TestCoordinator_ConcurrentRatingsAreNotLost(t *testing.T) {
	c, _ := newTestCoordinator(t, WithCacheEnabled(false))
	ctx := context.Background()
	if _, err := c.Create(ctx, NewRestaurant{Name: "Nopa", Cuisine: "Californian", Region: "SF"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Few enough writers that none exhausts its conflict retries.
	const writers = 4
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Rate(ctx, "Nopa", 4); err != nil {
				t.Errorf("Rate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := c.Get(ctx, "Nopa")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RatingCount != writers || got.Rating != 4 {
		t.Errorf("Get() = %v/%d, want 4/%d", got.Rating, got.RatingCount, writers)
	}
}

func TestCoordinator_StoreRetriesTransientFailures(t *testing.T) {
	c, st := newTestCoordinator(t)
	st.Store.(*memstore.Store).Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF"})
	st.getErrs = []error{errors.New("throttled")}

	if _, err := c.Get(context.Background(), "Nopa"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := st.gets.Load(); got != 2 {
		t.Errorf("store gets = %d, want 2", got)
	}
}

func TestCoordinator_StoreFailure(t *testing.T) {
	c, st := newTestCoordinator(t)
	boom := errors.New("throttled")
	st.getErrs = []error{boom, boom, boom}

	_, err := c.Get(context.Background(), "Nopa")
	if !errors.Is(err, ErrDependencyFailure) {
		t.Errorf("Get() error = %v, want ErrDependencyFailure", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want it to wrap the store error", err)
	}
	if got := st.gets.Load(); got != 3 {
		t.Errorf("store gets = %d, want 3", got)
	}
}

func seedRatings(t *testing.T, st *countingStore, ratings ...float64) {
	t.Helper()
	names := []string{"A", "B", "C", "D", "E", "F", "G"}
	for i, r := range ratings {
		st.Store.(*memstore.Store).Put(store.Record{
			Name: names[i], Cuisine: "Thai", Region: "SF", Rating: r, RatingCount: 1,
		})
	}
}

func TestCoordinator_ListOrderAndLimit(t *testing.T) {
	c, st := newTestCoordinator(t)
	seedRatings(t, st, 3, 5, 1, 4, 2)

	queries := []ListQuery{
		ByCuisine("Thai"),
		ByRegion("SF"),
		ByRegionAndCuisine("SF", "Thai"),
	}
	for _, q := range queries {
		t.Run(string(q.Kind), func(t *testing.T) {
			got, err := c.List(context.Background(), q.WithLimit(3))
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			want := []float64{5, 4, 3}
			if len(got) != len(want) {
				t.Fatalf("List() returned %d restaurants, want %d", len(got), len(want))
			}
			for i, r := range got {
				if r.Rating != want[i] {
					t.Errorf("List()[%d].Rating = %v, want %v", i, r.Rating, want[i])
				}
			}
		})
	}
}

func TestCoordinator_ListMinRating(t *testing.T) {
	c, st := newTestCoordinator(t)
	seedRatings(t, st, 5, 4, 3, 2, 1)
	ctx := context.Background()

	got, err := c.List(ctx, ByCuisine("Thai").WithMinRating(3.5))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List() returned %d restaurants, want 2", len(got))
	}

	_, err = c.List(ctx, ByCuisine("Thai").WithMinRating(5.5))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("List() above every rating error = %v, want ErrNotFound", err)
	}
}

func TestCoordinator_ListEmptyIsNotCached(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.List(ctx, ByCuisine("Basque")); !errors.Is(err, ErrNotFound) {
			t.Fatalf("List() error = %v, want ErrNotFound", err)
		}
	}
	if got := st.queries.Load(); got != 2 {
		t.Errorf("store queries = %d, want 2", got)
	}
}

func TestCoordinator_ListCacheHit(t *testing.T) {
	c, st := newTestCoordinator(t)
	seedRatings(t, st, 5, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.List(ctx, ByRegion("SF")); err != nil {
			t.Fatalf("List() error = %v", err)
		}
	}
	if got := st.queries.Load(); got != 1 {
		t.Errorf("store queries = %d, want 1", got)
	}

	// A different parameterization is a different entry.
	if _, err := c.List(ctx, ByRegion("SF").WithLimit(1)); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := st.queries.Load(); got != 2 {
		t.Errorf("store queries = %d, want 2", got)
	}
}

func TestCoordinator_ListStalenessUntilTTL(t *testing.T) {
	c, st := newTestCoordinator(t)
	seedRatings(t, st, 4)
	ctx := context.Background()

	if _, err := c.List(ctx, ByRegion("SF")); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if _, err := c.Create(ctx, NewRestaurant{Name: "New", Cuisine: "Thai", Region: "SF", Rating: ptr(5)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := c.List(ctx, ByRegion("SF"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("List() returned %d restaurants, want the cached 1", len(got))
	}
}

func TestCoordinator_ListInvalidation(t *testing.T) {
	c, st := newTestCoordinator(t, WithListInvalidation(true))
	seedRatings(t, st, 4)
	ctx := context.Background()

	if _, err := c.List(ctx, ByRegion("SF")); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if _, err := c.Create(ctx, NewRestaurant{Name: "New", Cuisine: "Thai", Region: "SF", Rating: ptr(5)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := c.List(ctx, ByRegion("SF"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "New" {
		t.Errorf("List() = %+v, want New first of 2", got)
	}

	if _, err := c.Rate(ctx, "A", 0); err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	got, err = c.List(ctx, ByRegion("SF"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got[1].Rating != 2 {
		t.Errorf("List()[1].Rating = %v, want 2", got[1].Rating)
	}

	if err := c.Delete(ctx, "New"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err = c.List(ctx, ByRegion("SF"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("List() returned %d restaurants, want 1", len(got))
	}
}

func TestCoordinator_ConcurrentMissesShareStoreRead(t *testing.T) {
	st := &blockingStore{Store: memstore.New(), release: make(chan struct{})}
	st.Store.(*memstore.Store).Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF"})
	c, err := New(WithStore(st), WithCache(newMemoryCache(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	const readers = 8
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "Nopa"); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}

	// Let the readers pile up behind the first store read.
	time.Sleep(20 * time.Millisecond)
	close(st.release)
	wg.Wait()

	if got := st.gets.Load(); got != 1 {
		t.Errorf("store gets = %d, want 1", got)
	}
}

func TestCoordinator_CancelledReaderDoesNotFailSharedRead(t *testing.T) {
	st := &blockingStore{Store: memstore.New(), release: make(chan struct{})}
	st.Store.(*memstore.Store).Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF"})
	c, err := New(WithStore(st), WithCache(newMemoryCache(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := c.Get(ctxA, "Nopa")
		errA <- err
	}()
	for st.gets.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type result struct {
		r   *Restaurant
		err error
	}
	resB := make(chan result, 1)
	go func() {
		r, err := c.Get(context.Background(), "Nopa")
		resB <- result{r, err}
	}()
	// Let B join the read A started.
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled Get() error = %v, want context.Canceled", err)
		}
		if errors.Is(err, ErrDependencyFailure) {
			t.Errorf("cancelled Get() error = %v, should not be a dependency failure", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Get() did not return before the store answered")
	}

	close(st.release)
	b := <-resB
	if b.err != nil {
		t.Fatalf("Get() error = %v", b.err)
	}
	if b.r.Cuisine != "Californian" {
		t.Errorf("Cuisine = %q, want Californian", b.r.Cuisine)
	}
	if got := st.gets.Load(); got != 1 {
		t.Errorf("store gets = %d, want 1", got)
	}
}

func TestCoordinator_CancelledCallerIsNotDependencyFailure(t *testing.T) {
	st := memstore.New()
	st.Put(store.Record{Name: "Nopa", Cuisine: "Californian", Region: "SF"})
	c, err := New(WithStore(st), WithCacheEnabled(false))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Get(ctx, "Nopa"); !errors.Is(err, context.Canceled) || errors.Is(err, ErrDependencyFailure) {
		t.Errorf("Get() error = %v, want bare context.Canceled", err)
	}
	if _, err := c.Rate(ctx, "Nopa", 4); !errors.Is(err, context.Canceled) || errors.Is(err, ErrDependencyFailure) {
		t.Errorf("Rate() error = %v, want bare context.Canceled", err)
	}
	if _, err := c.List(ctx, ByCuisine("Californian")); !errors.Is(err, context.Canceled) || errors.Is(err, ErrDependencyFailure) {
		t.Errorf("List() error = %v, want bare context.Canceled", err)
	}
}

// blockingStore holds every Get until release is closed.
type blockingStore struct {
	store.Store
	release chan struct{}
	gets    atomic.Int64
}

func (s *blockingStore) Get(ctx context.Context, name string) (store.Record, error) {
	s.gets.Add(1)
	<-s.release
	return s.Store.Get(ctx, name)
}

func TestCoordinator_Close(t *testing.T) {
	c, err := New(WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("Close() second call error = %v, want ErrClosed", err)
	}
	if _, err := c.Get(context.Background(), "Nopa"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after close error = %v, want ErrClosed", err)
	}
}
