// Package s3source reads seed files from AWS S3.
package s3source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dinedir/restaurants/internal/seed"
)

// Compile-time check that Source implements seed.Source.
var _ seed.Source = (*Source)(nil)

// API is the subset of the S3 client used by Source.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source is a seed object in an S3 bucket.
type Source struct {
	client API
	bucket string
	key    string
}

// Option configures a Source.
type Option func(*settings)

type settings struct {
	region   string
	endpoint string
	client   API
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(s *settings) { s.region = region }
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
func WithEndpoint(endpoint string) Option {
	return func(s *settings) { s.endpoint = endpoint }
}

// WithClient replaces the S3 client.
func WithClient(client API) Option {
	return func(s *settings) { s.client = client }
}

// New creates a source for the object at uri ("s3://bucket/key").
func New(ctx context.Context, uri string, opts ...Option) (*Source, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	var st settings
	for _, opt := range opts {
		opt(&st)
	}

	client := st.client
	if client == nil {
		var loadOpts []func(*config.LoadOptions) error
		if st.region != "" {
			loadOpts = append(loadOpts, config.WithRegion(st.region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if st.endpoint != "" {
				o.BaseEndpoint = aws.String(st.endpoint)
				o.UsePathStyle = true
			}
		})
	}

	return &Source{client: client, bucket: bucket, key: key}, nil
}

// ParseURI splits "s3://bucket/key" into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid S3 URI %q: must start with s3://", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: need bucket and key", uri)
	}
	return bucket, key, nil
}

// Name returns the base name of the object key.
func (s *Source) Name() string {
	return path.Base(s.key)
}

// Open starts reading the object.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, seed.ErrSourceNotFound
		}
		return nil, 0, fmt.Errorf("getting s3://%s/%s: %w", s.bucket, s.key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}
