// Package codec adapts block compressors for cached texture payloads.
//
// The codec used to write a cache is not recorded in the cache file; it is part
// of the cache fingerprint instead, so switching codecs invalidates old files.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	ZLIB = "zlib"
	ZSTD = "zstd"
	LZ4  = "lz4"
)

// ErrCorrupt is returned when a payload cannot be decompressed.
var ErrCorrupt = errors.New("codec: corrupt input")

// ErrTooLarge is returned when a payload inflates past the requested limit.
var ErrTooLarge = errors.New("codec: decompressed payload exceeds limit")

// Codec compresses and decompresses whole payloads.
type Codec interface {
	// Compress writes the compressed form of src into dst[:0], growing it when needed.
	Compress(dst, src []byte) ([]byte, error)
	// Decompress writes the decompressed form of src into dst[:0], growing it when needed.
	// A positive limit fails the call with ErrTooLarge once the output passes limit bytes.
	Decompress(dst, src []byte, limit int) ([]byte, error)
	Name() string
}

// Default is the codec used when none is configured.
var Default Codec = Zlib{}

// ByName returns a built-in codec by its stable name. An empty name selects Default.
func ByName(name string) (Codec, bool) {
	switch strings.ToLower(name) {
	case "", ZLIB:
		return Zlib{}, true
	case ZSTD:
		return NewZstd(), true
	case LZ4:
		return LZ4Frame{}, true
	default:
		return nil, false
	}
}

// readLimited drains r into dst[:0], reading at most one byte past limit.
func readLimited(dst []byte, r io.Reader, limit int) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, int64(limit)+1)
	}
	buf := bytes.NewBuffer(dst[:0])
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if limit > 0 && buf.Len() > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return buf.Bytes(), nil
}
