package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txcache/pkg/codec"
)

func TestScratchRing_Alternates(t *testing.T) {
	var ring scratchRing
	first := ring.acquire(16)
	second := ring.acquire(16)
	third := ring.acquire(8)

	first[0], second[0] = 1, 2
	assert.Equal(t, byte(1), first[0])
	assert.Len(t, third, 8)
	assert.Same(t, &first[0], &third[0], "third acquire reuses the first slot")
}

func TestScratchRing_FailureDoesNotAdvance(t *testing.T) {
	var ring scratchRing
	zlib := codec.Zlib{}

	payload := bytes.Repeat([]byte("texel"), 100)
	compressed, err := zlib.Compress(nil, payload)
	require.NoError(t, err)

	first, err := ring.decompress(zlib, compressed, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, first)

	_, err = ring.decompress(zlib, []byte("not zlib"), len(payload))
	require.Error(t, err)

	other := bytes.Repeat([]byte("pixel"), 100)
	compressed, err = zlib.Compress(nil, other)
	require.NoError(t, err)
	second, err := ring.decompress(zlib, compressed, len(other))
	require.NoError(t, err)

	assert.Equal(t, payload, first)
	assert.Equal(t, other, second)
}

func TestScratchRing_SizeMismatch(t *testing.T) {
	var ring scratchRing
	zlib := codec.Zlib{}

	compressed, err := zlib.Compress(nil, bytes.Repeat([]byte{1}, 10))
	require.NoError(t, err)
	_, err = ring.decompress(zlib, compressed, 64)
	require.Error(t, err)

	long, err := zlib.Compress(nil, bytes.Repeat([]byte{2}, 200))
	require.NoError(t, err)
	_, err = ring.decompress(zlib, long, 64)
	assert.ErrorIs(t, err, codec.ErrTooLarge)
	assert.Zero(t, ring.next)
}

func TestScratchRing_ReusesSlots(t *testing.T) {
	var ring scratchRing
	zlib := codec.Zlib{}

	payload := bytes.Repeat([]byte("texel"), 100)
	compressed, err := zlib.Compress(nil, payload)
	require.NoError(t, err)

	first, err := ring.decompress(zlib, compressed, len(payload))
	require.NoError(t, err)
	_, err = ring.decompress(zlib, compressed, len(payload))
	require.NoError(t, err)
	third, err := ring.decompress(zlib, compressed, len(payload))
	require.NoError(t, err)

	assert.Same(t, &first[0], &third[0], "third decode reuses the first slot")
}
