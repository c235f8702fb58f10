package engine

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"txcache/pkg/models"
)

func newTestEngine(t *testing.T, cacheConfig *models.CacheConfig) *TxCacheEngine {
	t.Helper()
	config := &models.TxCacheConfig{
		Log:     &models.LogConfig{},
		Storage: &models.StorageConfig{Path: t.TempDir()},
		Cache:   cacheConfig,
	}
	require.NoError(t, applyDefaults(config, filepath.Join(t.TempDir(), "txcache.yaml")))

	engine, err := NewTxCacheEngine(config)
	require.NoError(t, err)
	t.Cleanup(func() { engine.cache.Close() })
	return engine
}

func doRequest(engine *TxCacheEngine, method, uri string, body []byte, headers map[string]string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	engine.handleRequest(&ctx)
	return &ctx
}

func textureHeaders(width, height int) map[string]string {
	return map[string]string{
		HEADER_WIDTH:  strconv.Itoa(width),
		HEADER_HEIGHT: strconv.Itoa(height),
		HEADER_FORMAT: strconv.Itoa(int(models.GL_RGBA8)),
		HEADER_HIRES:  "true",
	}
}

func texturePayload(width, height int, seed byte) []byte {
	data := make([]byte, width*height*4)
	for i := range data {
		data[i] = seed + byte(i%13)
	}
	return data
}

func TestEngine_TextureLifecycle(t *testing.T) {
	engine := newTestEngine(t, &models.CacheConfig{Capacity: 1 << 20})
	payload := texturePayload(8, 8, 1)

	ctx := doRequest(engine, fasthttp.MethodPut, "/textures/00000000deadbeef", payload, textureHeaders(8, 8))
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	ctx = doRequest(engine, fasthttp.MethodPut, "/textures/deadbeef", payload, textureHeaders(8, 8))
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodHead, "/textures/deadbeef", nil, nil)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodGet, "/textures/0xdeadbeef", nil, nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, payload, ctx.Response.Body())
	assert.Equal(t, "8", string(ctx.Response.Header.Peek(HEADER_WIDTH)))
	assert.Equal(t, strconv.Itoa(int(models.GL_RGBA8)), string(ctx.Response.Header.Peek(HEADER_FORMAT)))
	assert.Equal(t, "true", string(ctx.Response.Header.Peek(HEADER_HIRES)))

	ctx = doRequest(engine, fasthttp.MethodDelete, "/textures/deadbeef", nil, nil)
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodDelete, "/textures/deadbeef", nil, nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodGet, "/textures/deadbeef", nil, nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodHead, "/textures/deadbeef", nil, nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestEngine_BadTextureRequests(t *testing.T) {
	engine := newTestEngine(t, nil)

	ctx := doRequest(engine, fasthttp.MethodGet, "/textures/zz", nil, nil)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodGet, "/textures/0", nil, nil)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodPut, "/textures/1", texturePayload(2, 2, 0), nil)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	headers := textureHeaders(2, 2)
	headers[HEADER_FORMAT] = "4660"
	ctx = doRequest(engine, fasthttp.MethodPut, "/textures/1", texturePayload(2, 2, 0), headers)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodPut, "/textures/1", texturePayload(1, 1, 0), textureHeaders(2, 2))
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodPost, "/textures/1", nil, nil)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())

	ctx = doRequest(engine, fasthttp.MethodGet, "/nowhere", nil, nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestEngine_Stats(t *testing.T) {
	engine := newTestEngine(t, &models.CacheConfig{Capacity: 4096, Ident: "F-ZERO X"})
	doRequest(engine, fasthttp.MethodPut, "/textures/1", texturePayload(4, 4, 1), textureHeaders(4, 4))

	ctx := doRequest(engine, fasthttp.MethodGet, "/stats", nil, nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))

	var stats statsResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &stats))
	assert.Equal(t, models.BACKEND_MEMORY, stats.Backend)
	assert.Equal(t, "F-ZERO%20X_MEMORYCACHE.htc", stats.File)
	assert.Equal(t, uint64(1), stats.Entries)
	assert.Equal(t, uint64(64), stats.TotalSize)
	assert.Equal(t, uint64(4096), stats.CacheLimit)
	assert.Equal(t, engine.cache.Fingerprint(), stats.Fingerprint)
}

func TestEngine_SaveClearLoad(t *testing.T) {
	for _, backend := range []string{models.BACKEND_MEMORY, models.BACKEND_FILE} {
		engine := newTestEngine(t, &models.CacheConfig{Backend: backend, Compress: true})
		payload := texturePayload(16, 16, 3)

		ctx := doRequest(engine, fasthttp.MethodPut, "/textures/abc", payload, textureHeaders(16, 16))
		require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

		ctx = doRequest(engine, fasthttp.MethodPost, "/save", nil, nil)
		require.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode(), string(ctx.Response.Body()))

		ctx = doRequest(engine, fasthttp.MethodDelete, "/textures", nil, nil)
		require.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
		assert.True(t, engine.cache.Empty())

		if backend == models.BACKEND_FILE {
			// clearing a storage file truncates it, save again from scratch
			ctx = doRequest(engine, fasthttp.MethodPut, "/textures/abc", payload, textureHeaders(16, 16))
			require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
			ctx = doRequest(engine, fasthttp.MethodPost, "/save", nil, nil)
			require.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
		}

		ctx = doRequest(engine, fasthttp.MethodPost, "/load?force=1", nil, nil)
		require.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode(), string(ctx.Response.Body()))

		ctx = doRequest(engine, fasthttp.MethodGet, "/textures/abc", nil, nil)
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, payload, ctx.Response.Body())
	}
}

func TestEngine_LoadMissingFile(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := doRequest(engine, fasthttp.MethodPost, "/load", nil, nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestEngine_Metrics(t *testing.T) {
	engine := newTestEngine(t, nil)
	doRequest(engine, fasthttp.MethodGet, "/textures/5", nil, nil)

	ctx := doRequest(engine, fasthttp.MethodGet, "/metrics", nil, nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "txcache_misses_total 1")
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "txcache.yaml")
	content := `
storage:
  path: ` + dir + `
cache:
  capacity: 64MB
  codec: zstd
filter:
  filterMode: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), config.Server.Port)
	assert.Equal(t, models.BACKEND_MEMORY, config.Cache.Backend)
	assert.Equal(t, models.ByteSize(64_000_000), config.Cache.Capacity)
	assert.Equal(t, "zstd", config.Cache.Codec)
	assert.Equal(t, uint32(2), config.Filter.FilterMode)
	assert.NotNil(t, config.Log)
	assert.Equal(t, dir, config.Storage.Path)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "txcache.yaml")

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  backend: tape\n"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  capacity: lots\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestInitConfig_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "conf", "txcache.yaml")

	require.NoError(t, InitConfig(path))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DEFAULT_CAPACITY, config.Cache.Capacity)
	assert.True(t, config.Cache.Compress)
	assert.NotZero(t, config.Server.Port)
	require.Len(t, config.Profiles, 1)
	assert.Equal(t, []string{"^ZELDA"}, config.Profiles[0].Match)
}

func TestCacheOptions(t *testing.T) {
	filter := &models.FilterConfig{FilterMode: 3, EnhancementMode: 2, Force16Bpp: true}

	options := CacheOptions(&models.CacheConfig{Backend: models.BACKEND_FILE, Compress: true}, filter)
	assert.Equal(t, uint32(3), options&models.FILTER_MASK)
	assert.Equal(t, uint32(0x200), options&models.ENHANCEMENT_MASK)
	assert.NotZero(t, options&models.FORCE16BPP_TEX)
	assert.NotZero(t, options&models.GZ_TEXCACHE)
	assert.NotZero(t, options&models.FILE_CACHE)

	assert.Equal(t, models.NO_OPTIONS, CacheOptions(&models.CacheConfig{}, nil))
}

func TestEngine_ProfileApplied(t *testing.T) {
	config := &models.TxCacheConfig{
		Log:     &models.LogConfig{},
		Storage: &models.StorageConfig{Path: t.TempDir()},
		Cache:   &models.CacheConfig{Ident: "ZELDA MAJORA'S MASK"},
		Filter:  &models.FilterConfig{FilterMode: 1},
		Profiles: []models.ProfileConfig{
			{Name: "zelda", Match: []string{"^ZELDA"}, Filter: &models.FilterConfig{EnhancementMode: 4}},
		},
	}
	require.NoError(t, applyDefaults(config, filepath.Join(t.TempDir(), "txcache.yaml")))

	engine, err := NewTxCacheEngine(config)
	require.NoError(t, err)
	defer engine.cache.Close()

	options := engine.cache.GetOptions()
	assert.Equal(t, uint32(1), options&models.FILTER_MASK)
	assert.Equal(t, uint32(0x400), options&models.ENHANCEMENT_MASK)
}

func TestInspect(t *testing.T) {
	for _, backend := range []string{models.BACKEND_MEMORY, models.BACKEND_FILE} {
		engine := newTestEngine(t, &models.CacheConfig{Backend: backend, Ident: "WAVE RACE"})
		doRequest(engine, fasthttp.MethodPut, "/textures/1", texturePayload(4, 4, 1), textureHeaders(4, 4))
		doRequest(engine, fasthttp.MethodPut, "/textures/2", texturePayload(2, 2, 2), textureHeaders(2, 2))
		ctx := doRequest(engine, fasthttp.MethodPost, "/save", nil, nil)
		require.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())

		var out bytes.Buffer
		require.NoError(t, Inspect(filepath.Join(engine.config.Storage.Path, engine.cache.FileName()), &out))
		assert.Contains(t, out.String(), "0000000000000001")
		assert.Contains(t, out.String(), "0000000000000002")
		assert.Contains(t, out.String(), "2 entries, 80 B")
	}
}
