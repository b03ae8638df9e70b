// Package codec provides compression for cached payloads and seed files.
package codec

import "io"

// Codec compresses and decompresses byte payloads.
type Codec interface {
	// Name identifies the codec in configuration (e.g., "zstd").
	Name() string

	// Encode returns the compressed form of src.
	Encode(src []byte) ([]byte, error)

	// Decode returns the decompressed form of src.
	Decode(src []byte) ([]byte, error)

	// Reader wraps r to decompress a stream read from it.
	Reader(r io.Reader) (io.ReadCloser, error)

	// Extension returns the file extension without dot (e.g., "zst", "gz").
	// Returns empty string for no compression.
	Extension() string
}
