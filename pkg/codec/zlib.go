package codec

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zlib"
)

// Zlib is the default codec. A zero Level means zlib.DefaultCompression.
type Zlib struct {
	Level int
}

func (z Zlib) Name() string {
	return ZLIB
}

func (z Zlib) Compress(dst, src []byte) ([]byte, error) {
	level := z.Level
	if level == 0 {
		level = zlib.DefaultCompression
	}

	buf := bytes.NewBuffer(dst[:0])
	w, err := zlib.NewWriterLevel(buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (z Zlib) Decompress(dst, src []byte, limit int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer r.Close()

	return readLimited(dst, r, limit)
}
