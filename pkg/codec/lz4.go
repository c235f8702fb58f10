package codec

import (
	"bytes"

	"github.com/pierrec/lz4/v4"
)

// LZ4Frame uses the lz4 frame format so payload sizes travel with the data.
type LZ4Frame struct{}

func (LZ4Frame) Name() string {
	return LZ4
}

func (LZ4Frame) Compress(dst, src []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst[:0])
	w := lz4.NewWriter(buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4Frame) Decompress(dst, src []byte, limit int) ([]byte, error) {
	return readLimited(dst, lz4.NewReader(bytes.NewReader(src)), limit)
}
