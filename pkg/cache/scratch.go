package cache

import (
	"bytes"
	"fmt"

	"txcache/pkg/codec"
)

const scratchSlots = 2

// scratchRing hands out cache-owned buffers round robin, so the result of one
// Get stays valid while the next one is decoded.
type scratchRing struct {
	bufs [scratchSlots][]byte
	next int
}

func (r *scratchRing) advance() {
	r.next = (r.next + 1) % scratchSlots
}

// acquire returns the next slot resized to n bytes.
func (r *scratchRing) acquire(n int) []byte {
	buf := r.bufs[r.next]
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	r.bufs[r.next] = buf
	r.advance()
	return buf
}

// decompress decodes src into the next slot. A positive size is the exact
// length the payload must inflate to. The ring only advances on success.
func (r *scratchRing) decompress(c codec.Codec, src []byte, size int) ([]byte, error) {
	dst := r.bufs[r.next]
	if want := size + bytes.MinRead; cap(dst) < want {
		dst = make([]byte, 0, want)
	}

	out, err := c.Decompress(dst[:0], src, size)
	if err != nil {
		return nil, err
	}
	if size > 0 && len(out) != size {
		return nil, fmt.Errorf("payload inflated to %d bytes, want %d", len(out), size)
	}
	r.bufs[r.next] = out
	r.advance()
	return out, nil
}
