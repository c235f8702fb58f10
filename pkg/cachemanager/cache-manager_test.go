package cachemanager

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txcache/pkg/cache"
	"txcache/pkg/models"
)

func newTexture(width, height int32, seed byte) *models.TexInfo {
	data := make([]byte, models.SizeOfTex(width, height, models.GL_RGBA8))
	for i := range data {
		data[i] = seed + byte(i%7)
	}
	return &models.TexInfo{Width: width, Height: height, Format: models.GL_RGBA8, Data: data}
}

func newTestTxCache(t *testing.T, p Params) *TxCache {
	t.Helper()
	if p.CachePath == "" {
		p.CachePath = t.TempDir()
	}
	tc, err := NewTxCache(p)
	require.NoError(t, err)
	t.Cleanup(func() { tc.Close() })
	return tc
}

func TestNewTxCache_SelectsBackend(t *testing.T) {
	memory := newTestTxCache(t, Params{Config: &models.CacheConfig{Capacity: 1024}})
	assert.Equal(t, models.BACKEND_MEMORY, memory.Backend())
	assert.Equal(t, uint64(1024), memory.CacheLimit())

	file := newTestTxCache(t, Params{Options: models.FILE_CACHE, Config: &models.CacheConfig{Capacity: 1024}})
	assert.Equal(t, models.BACKEND_FILE, file.Backend())
	assert.Equal(t, uint64(0), file.CacheLimit())

	_, err := NewTxCache(Params{Config: &models.CacheConfig{Backend: models.BACKEND_REDIS}})
	assert.Error(t, err)

	_, err = NewTxCache(Params{Config: &models.CacheConfig{Codec: "brotli"}})
	assert.Error(t, err)
}

func TestTxCache_FileName(t *testing.T) {
	tests := []struct {
		ident   string
		options uint32
		want    string
	}{
		{"", models.NO_OPTIONS, "DEFAULT_MEMORYCACHE.htc"},
		{"SUPER MARIO 64", models.NO_OPTIONS, "SUPER%20MARIO%2064_MEMORYCACHE.htc"},
		{"MAJORA'S MASK", models.FILE_CACHE, "MAJORA%27S%20MASK_STORAGE.htc"},
	}
	for _, tt := range tests {
		tc := newTestTxCache(t, Params{Ident: tt.ident, Options: tt.options})
		assert.Equal(t, tt.want, tc.FileName())
	}
}

func TestTxCache_Fingerprint(t *testing.T) {
	filter := &models.FilterConfig{FilterMode: 2, HiresEnable: true}

	a := newTestTxCache(t, Params{Filter: filter, Options: models.GZ_TEXCACHE})
	b := newTestTxCache(t, Params{Filter: filter, Options: models.GZ_TEXCACHE})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, cache.FAKE_CONFIG, a.Fingerprint())

	other := newTestTxCache(t, Params{Filter: &models.FilterConfig{FilterMode: 3}, Options: models.GZ_TEXCACHE})
	assert.NotEqual(t, a.Fingerprint(), other.Fingerprint())

	zstd := newTestTxCache(t, Params{Filter: filter, Options: models.GZ_TEXCACHE, Config: &models.CacheConfig{Codec: "zstd"}})
	assert.NotEqual(t, a.Fingerprint(), zstd.Fingerprint())

	before := a.Fingerprint()
	a.SetOptions(models.GZ_TEXCACHE | models.DUMP_TEXCACHE)
	assert.Equal(t, before, a.Fingerprint(), "bits outside CONFIG_MASK do not count")
	a.SetOptions(models.NO_OPTIONS)
	assert.NotEqual(t, before, a.Fingerprint())
}

func TestTxCache_AddCompresses(t *testing.T) {
	tc := newTestTxCache(t, Params{Options: models.GZ_TEXCACHE})
	tex := newTexture(32, 32, 1)
	original := bytes.Clone(tex.Data)

	require.NoError(t, tc.Add(1, tex, 0))
	assert.Less(t, tc.TotalSize(), uint64(len(original)))
	assert.Equal(t, original, tex.Data)
	assert.Zero(t, tex.Format&models.FORMAT_GZ)

	got, ok, err := tc.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(models.GL_RGBA8), got.Format)
	assert.Equal(t, original, got.Data)
}

func TestTxCache_AddWithoutCompression(t *testing.T) {
	tc := newTestTxCache(t, Params{})
	tex := newTexture(8, 8, 1)

	require.NoError(t, tc.Add(1, tex, 0))
	assert.Equal(t, uint64(len(tex.Data)), tc.TotalSize())
	assert.ErrorIs(t, tc.Add(1, tex, 0), cache.ErrDuplicate)
}

func TestTxCache_SaveLoad(t *testing.T) {
	for _, options := range []uint32{models.NO_OPTIONS, models.GZ_TEXCACHE, models.FILE_CACHE, models.FILE_CACHE | models.GZ_TEXCACHE} {
		dir := t.TempDir()
		filter := &models.FilterConfig{EnhancementMode: 4}

		source := newTestTxCache(t, Params{CachePath: dir, Ident: "WAVE RACE", Options: options, Filter: filter})
		for i := 1; i <= 4; i++ {
			require.NoError(t, source.Add(models.Checksum(i), newTexture(8, 8, byte(i)), 0))
		}
		require.NoError(t, source.Save())
		require.NoError(t, source.Close())

		restored := newTestTxCache(t, Params{CachePath: dir, Ident: "WAVE RACE", Options: options, Filter: filter})
		require.NoError(t, restored.Load(false))
		assert.Equal(t, uint64(4), restored.Size())
		for i := 1; i <= 4; i++ {
			got, ok, err := restored.Get(models.Checksum(i))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, newTexture(8, 8, byte(i)).Data, got.Data)
		}

		changed := newTestTxCache(t, Params{CachePath: dir, Ident: "WAVE RACE", Options: options, Filter: &models.FilterConfig{EnhancementMode: 5}})
		assert.ErrorIs(t, changed.Load(false), cache.ErrConfigMismatch)
		assert.True(t, changed.Empty())
	}
}

func TestTxCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	// 10x10 RGBA8 = 400 bytes, budget fits two
	tc := newTestTxCache(t, Params{Config: &models.CacheConfig{Capacity: 800}, Metrics: metrics})

	require.NoError(t, tc.Add(1, newTexture(10, 10, 1), 0))
	require.NoError(t, tc.Add(2, newTexture(10, 10, 2), 0))
	require.NoError(t, tc.Add(3, newTexture(10, 10, 3), 0))
	assert.Error(t, tc.Add(3, newTexture(10, 10, 3), 0))

	_, _, err := tc.Get(3)
	require.NoError(t, err)
	_, _, err = tc.Get(1)
	require.NoError(t, err)

	assert.Equal(t, 1.0, gathered(t, reg, "txcache_hits_total", ""))
	assert.Equal(t, 1.0, gathered(t, reg, "txcache_misses_total", ""))
	assert.Equal(t, 1.0, gathered(t, reg, "txcache_evictions_total", ""))
	assert.Equal(t, 3.0, gathered(t, reg, "txcache_adds_total", "stored"))
	assert.Equal(t, 1.0, gathered(t, reg, "txcache_adds_total", "duplicate"))
	assert.Equal(t, 2.0, gathered(t, reg, "txcache_entries", ""))
	assert.Equal(t, 800.0, gathered(t, reg, "txcache_size_bytes", ""))
	assert.Equal(t, 800.0, gathered(t, reg, "txcache_limit_bytes", ""))
}

// gathered returns the value of a counter or gauge, optionally selected by
// its result label.
func gathered(t *testing.T, reg *prometheus.Registry, name, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if result != "" {
				labels := metric.GetLabel()
				if len(labels) == 0 || labels[0].GetValue() != result {
					continue
				}
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestResolve(t *testing.T) {
	bilinear := 1
	base := &models.FilterConfig{FilterMode: 1, EnhancementMode: 2, BilinearMode: &bilinear, HiresEnable: true}

	assert.Same(t, base, Resolve(base, nil))

	resolved := Resolve(base, &models.FilterConfig{EnhancementMode: 6, Force16Bpp: true})
	assert.Equal(t, uint32(1), resolved.FilterMode)
	assert.Equal(t, uint32(6), resolved.EnhancementMode)
	assert.True(t, resolved.Force16Bpp)
	assert.False(t, resolved.HiresEnable)
	require.NotNil(t, resolved.BilinearMode)
	assert.Equal(t, 1, *resolved.BilinearMode)
	assert.Equal(t, uint32(2), base.EnhancementMode, "base is not modified")
}

func TestMatchProfile(t *testing.T) {
	profiles := []models.ProfileConfig{
		{Name: "Super Mario 64", Filter: &models.FilterConfig{FilterMode: 1}},
		{Name: "zelda", Match: []string{"^ZELDA", "^THE%20LEGEND%20OF%20ZELDA"}},
	}

	profile, err := MatchProfile(profiles, "SUPER MARIO 64")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Super Mario 64", profile.Name)

	profile, err = MatchProfile(profiles, "ZELDA MAJORA'S MASK")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "zelda", profile.Name)

	profile, err = MatchProfile(profiles, "F-ZERO X")
	require.NoError(t, err)
	assert.Nil(t, profile)

	_, err = MatchProfile([]models.ProfileConfig{{Match: []string{"("}}}, "ANY")
	assert.Error(t, err)
}
