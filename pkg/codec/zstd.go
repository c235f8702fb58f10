package codec

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd holds one encoder and decoder. EncodeAll/DecodeAll are safe to share;
// limited decodes stream through the decoder and must not run concurrently.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewZstd() *Zstd {
	// Neither constructor fails without options that can be rejected.
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return &Zstd{enc: enc, dec: dec}
}

func (z *Zstd) Name() string {
	return ZSTD
}

func (z *Zstd) Compress(dst, src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, dst[:0]), nil
}

func (z *Zstd) Decompress(dst, src []byte, limit int) ([]byte, error) {
	if limit <= 0 {
		out, err := z.dec.DecodeAll(src, dst[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return out, nil
	}

	if err := z.dec.Reset(bytes.NewReader(src)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return readLimited(dst, z.dec, limit)
}
