// Package seed bulk-loads restaurants into the directory from JSONL files.
//
// Each line holds one restaurant:
//
//	{"name":"Nopa","cuisine":"Californian","region":"SF","rating":4.5}
//
// The rating is optional. Files may be gzip or zstd compressed, detected by
// the ".gz" or ".zst" extension of the source name.
package seed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dinedir/restaurants"
	"github.com/dinedir/restaurants/internal/codec"
	"github.com/dinedir/restaurants/internal/codec/gzipcodec"
	"github.com/dinedir/restaurants/internal/codec/noopcodec"
	"github.com/dinedir/restaurants/internal/codec/zstdcodec"
	"github.com/dinedir/restaurants/internal/stats"
)

// ErrSourceNotFound is returned by Source.Open when the file or object does
// not exist.
var ErrSourceNotFound = errors.New("seed: source not found")

const (
	// DefaultWorkers is the default number of concurrent creates.
	DefaultWorkers = 4

	// maxLineBytes bounds a single JSONL line.
	maxLineBytes = 1 << 20

	// reportEvery is how many records pass between progress reports.
	reportEvery = 500
)

// Source is a readable seed file.
type Source interface {
	// Name returns the file or object name. Its extension selects the codec.
	Name() string

	// Open returns the raw, possibly compressed, content and its size in
	// bytes, or -1 if unknown.
	Open(ctx context.Context) (io.ReadCloser, int64, error)
}

// Creator creates restaurants. *restaurants.Coordinator implements it.
type Creator interface {
	Create(ctx context.Context, in restaurants.NewRestaurant) (*restaurants.Restaurant, error)
}

// Result summarizes a load.
type Result struct {
	Read       int64
	Created    int64
	Duplicates int64
	Invalid    int64
	Duration   time.Duration
}

// Loader replays seed records through a Creator.
type Loader struct {
	creator  Creator
	workers  int
	progress ProgressFunc
	stats    stats.Collector
	logger   *zap.Logger
}

// Option configures the Loader.
type Option func(*Loader)

// WithWorkers sets the number of concurrent creates.
func WithWorkers(n int) Option {
	return func(l *Loader) { l.workers = n }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(l *Loader) { l.progress = fn }
}

// WithStats sets the stats collector.
func WithStats(c stats.Collector) Option {
	return func(l *Loader) { l.stats = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a Loader writing through creator.
func New(creator Creator, opts ...Option) *Loader {
	l := &Loader{
		creator: creator,
		workers: DefaultWorkers,
		stats:   stats.NewNoop(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.workers < 1 {
		l.workers = 1
	}
	return l
}

// record is one line of a seed file.
type record struct {
	Name    string   `json:"name"`
	Cuisine string   `json:"cuisine"`
	Region  string   `json:"region"`
	Rating  *float64 `json:"rating,omitempty"`
}

type line struct {
	num  int64
	data []byte
}

// counters are shared by the load workers.
type counters struct {
	bytes, read, created, duplicates, invalid atomic.Int64
}

// Load reads every record of src and creates it. Restaurants that already
// exist and malformed or invalid records are counted and skipped. Any other
// failure stops the load.
func (l *Loader) Load(ctx context.Context, src Source) (Result, error) {
	start := time.Now()

	c, err := CodecFor(src.Name())
	if err != nil {
		return Result{}, err
	}

	raw, size, err := src.Open(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("opening %s: %w", src.Name(), err)
	}
	defer raw.Close()

	var cnt counters
	body, err := c.Reader(newProgressReader(raw, &cnt.bytes))
	if err != nil {
		return Result{}, fmt.Errorf("creating decompressor: %w", err)
	}
	defer body.Close()

	report := func(phase string, err error) {
		if l.progress == nil {
			return
		}
		l.progress(Progress{
			Phase:      phase,
			BytesRead:  cnt.bytes.Load(),
			BytesTotal: size,
			Read:       cnt.read.Load(),
			Created:    cnt.created.Load(),
			Duplicates: cnt.duplicates.Load(),
			Invalid:    cnt.invalid.Load(),
			StartTime:  start,
			Error:      err,
		})
	}

	l.logger.Info("seeding started",
		zap.String("source", src.Name()),
		zap.String("codec", c.Name()),
		zap.Int("workers", l.workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan line, l.workers*2)

	g.Go(func() error {
		defer close(lines)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

		var num int64
		for scanner.Scan() {
			num++
			data := scanner.Bytes()
			if len(strings.TrimSpace(string(data))) == 0 {
				continue
			}
			ln := line{num: num, data: append([]byte(nil), data...)}
			select {
			case lines <- ln:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading %s: %w", src.Name(), err)
		}
		return nil
	})

	for i := 0; i < l.workers; i++ {
		g.Go(func() error {
			for ln := range lines {
				if err := l.apply(gctx, ln, &cnt); err != nil {
					return err
				}
				if cnt.read.Load()%reportEvery == 0 {
					report("load", nil)
				}
			}
			return nil
		})
	}

	err = g.Wait()

	res := Result{
		Read:       cnt.read.Load(),
		Created:    cnt.created.Load(),
		Duplicates: cnt.duplicates.Load(),
		Invalid:    cnt.invalid.Load(),
		Duration:   time.Since(start),
	}

	if err != nil {
		report("error", err)
		return res, err
	}
	report("done", nil)

	l.logger.Info("seeding finished",
		zap.String("source", src.Name()),
		zap.Int64("read", res.Read),
		zap.Int64("created", res.Created),
		zap.Int64("duplicates", res.Duplicates),
		zap.Int64("invalid", res.Invalid),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// apply creates the restaurant held by ln.
func (l *Loader) apply(ctx context.Context, ln line, cnt *counters) error {
	cnt.read.Add(1)

	var rec record
	if err := json.Unmarshal(ln.data, &rec); err != nil {
		l.skipInvalid(ln.num, err, cnt)
		return nil
	}

	_, err := l.creator.Create(ctx, restaurants.NewRestaurant{
		Name:    rec.Name,
		Cuisine: rec.Cuisine,
		Region:  rec.Region,
		Rating:  rec.Rating,
	})
	switch {
	case err == nil:
		cnt.created.Add(1)
		l.stats.IncCounter(stats.MetricSeedCreated, 1)
	case errors.Is(err, restaurants.ErrAlreadyExists):
		cnt.duplicates.Add(1)
		l.stats.IncCounter(stats.MetricSeedDuplicates, 1)
	case errors.Is(err, restaurants.ErrInvalidArgument):
		l.skipInvalid(ln.num, err, cnt)
	default:
		return fmt.Errorf("line %d: %w", ln.num, err)
	}
	return nil
}

func (l *Loader) skipInvalid(num int64, err error, cnt *counters) {
	cnt.invalid.Add(1)
	l.stats.IncCounter(stats.MetricSeedInvalid, 1)
	l.logger.Warn("skipping invalid seed record", zap.Int64("line", num), zap.Error(err))
}

// CodecFor returns the codec matching the extension of name.
func CodecFor(name string) (codec.Codec, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".gz":
		return gzipcodec.New(), nil
	case ".zst":
		c, err := zstdcodec.New()
		if err != nil {
			return nil, fmt.Errorf("creating zstd codec: %w", err)
		}
		return c, nil
	default:
		return noopcodec.New(), nil
	}
}
