// Package zstdcodec provides a zstd compression codec.
package zstdcodec

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/dinedir/restaurants/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec implements zstd compression. The encoder and decoder are shared and
// safe for concurrent use through EncodeAll and DecodeAll.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New returns a new zstd codec.
func New() (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec}, nil
}

// Name returns "zstd".
func (c *Codec) Name() string {
	return "zstd"
}

// Encode compresses src.
func (c *Codec) Encode(src []byte) ([]byte, error) {
	return c.encoder.EncodeAll(src, nil), nil
}

// Decode decompresses src.
func (c *Codec) Decode(src []byte) ([]byte, error) {
	return c.decoder.DecodeAll(src, nil)
}

// Reader wraps r to decompress a zstd stream.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// Extension returns "zst".
func (c *Codec) Extension() string {
	return "zst"
}
