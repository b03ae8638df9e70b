// Package filesource reads seed files from the local filesystem.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dinedir/restaurants/internal/seed"
)

// Compile-time check that Source implements seed.Source.
var _ seed.Source = (*Source)(nil)

// Source is a seed file on disk.
type Source struct {
	path string
}

// New creates a source for the file at path.
func New(path string) *Source {
	return &Source{path: path}
}

// Name returns the base name of the file.
func (s *Source) Name() string {
	return filepath.Base(s.path)
}

// Open opens the file.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, seed.ErrSourceNotFound
		}
		return nil, 0, fmt.Errorf("opening seed file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat seed file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", s.path)
	}
	return f, info.Size(), nil
}
