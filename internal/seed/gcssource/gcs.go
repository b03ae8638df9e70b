// Package gcssource reads seed files from Google Cloud Storage.
package gcssource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/dinedir/restaurants/internal/seed"
)

// Compile-time check that Source implements seed.Source.
var _ seed.Source = (*Source)(nil)

// Opener opens GCS objects for reading.
type Opener interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, int64, error)
}

// Source is a seed object in a GCS bucket.
type Source struct {
	opener Opener
	client *storage.Client
	bucket string
	object string
}

// Option configures a Source.
type Option func(*Source)

// WithOpener replaces the GCS client with opener.
func WithOpener(opener Opener) Option {
	return func(s *Source) { s.opener = opener }
}

// New creates a source for the object at uri ("gs://bucket/object").
func New(ctx context.Context, uri string, opts ...Option) (*Source, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	s := &Source{bucket: bucket, object: object}
	for _, opt := range opts {
		opt(s)
	}

	if s.opener == nil {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating GCS client: %w", err)
		}
		s.client = client
		s.opener = clientOpener{client: client}
	}
	return s, nil
}

// ParseURI splits "gs://bucket/object" into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid GCS URI %q: must start with gs://", uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS URI %q: need bucket and object", uri)
	}
	return bucket, object, nil
}

// Name returns the base name of the object.
func (s *Source) Name() string {
	return path.Base(s.object)
}

// Open starts reading the object.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	r, size, err := s.opener.NewReader(ctx, s.bucket, s.object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, seed.ErrSourceNotFound
		}
		return nil, 0, fmt.Errorf("reading gs://%s/%s: %w", s.bucket, s.object, err)
	}
	return r, size, nil
}

// Close releases the GCS client, if the source created one.
func (s *Source) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

type clientOpener struct {
	client *storage.Client
}

func (o clientOpener) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, int64, error) {
	r, err := o.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, 0, err
	}
	return r, r.Attrs.Size, nil
}
