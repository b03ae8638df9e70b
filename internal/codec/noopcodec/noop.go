// Package noopcodec provides a no-op codec (no compression).
package noopcodec

import (
	"io"

	"github.com/dinedir/restaurants/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec implements no compression.
type Codec struct{}

// New returns a new no-op codec.
func New() *Codec {
	return &Codec{}
}

// Name returns "none".
func (c *Codec) Name() string {
	return "none"
}

// Encode returns src unchanged.
func (c *Codec) Encode(src []byte) ([]byte, error) {
	return src, nil
}

// Decode returns src unchanged.
func (c *Codec) Decode(src []byte) ([]byte, error) {
	return src, nil
}

// Reader returns r wrapped as a ReadCloser.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r), nil
}

// Extension returns empty string.
func (c *Codec) Extension() string {
	return ""
}
