package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"txcache/pkg/cache"
	"txcache/pkg/models"
	"txcache/pkg/utils/fs"
)

const (
	TEXTURES_PATH   = "/textures"
	TEXTURES_PREFIX = TEXTURES_PATH + "/"

	HEADER_WIDTH          = "X-Txcache-Width"
	HEADER_HEIGHT         = "X-Txcache-Height"
	HEADER_FORMAT         = "X-Txcache-Format"
	HEADER_TEXTURE_FORMAT = "X-Txcache-Texture-Format"
	HEADER_PIXEL_TYPE     = "X-Txcache-Pixel-Type"
	HEADER_HIRES          = "X-Txcache-Hires"
	HEADER_DATA_SIZE      = "X-Txcache-Data-Size"
)

type statsResponse struct {
	Backend        string `json:"backend"`
	File           string `json:"file"`
	Entries        uint64 `json:"entries"`
	TotalSize      uint64 `json:"totalSize"`
	TotalSizeHuman string `json:"totalSizeHuman"`
	CacheLimit     uint64 `json:"cacheLimit"`
	Options        string `json:"options"`
	Fingerprint    int32  `json:"fingerprint"`
}

func (engine *TxCacheEngine) Run() {
	engine.pid = os.Getpid()
	if err := engine.storePid(); err != nil {
		engine.logger.Error("unable to store pid", zap.Error(err))
	}

	if engine.config.Cache.LoadOnStart {
		engine.loadOnStart()
	}

	addr := fmt.Sprintf(":%d", engine.config.Server.Port)
	engine.logger.Info("txcache engine starting", zap.String("addr", addr))

	server := &fasthttp.Server{
		Handler: engine.handleRequest,
		Name:    "txcache",
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(addr); err != nil {
			engine.logger.Error("fatal server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-stop
	engine.logger.Info("shutting down server")
	if err := server.Shutdown(); err != nil {
		engine.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := engine.cleanup(); err != nil {
		engine.logger.Error("cleanup error", zap.Error(err))
	}
}

func (engine *TxCacheEngine) loadOnStart() {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	err := engine.cache.Load(false)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist), errors.Is(err, cache.ErrNotFound):
		engine.logger.Info("no cache file to load", zap.String("file", engine.cache.FileName()))
	default:
		engine.logger.Warn("cache load failed", zap.Error(err))
	}
}

func (engine *TxCacheEngine) handleRequest(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())
	engine.logger.Debug("incoming request", zap.String("method", method), zap.String("path", path))

	switch {
	case path == "/metrics":
		engine.handleMetrics(ctx)
	case path == "/stats" && method == fasthttp.MethodGet:
		engine.handleStats(ctx)
	case path == "/save" && method == fasthttp.MethodPost:
		engine.handleSave(ctx)
	case path == "/load" && method == fasthttp.MethodPost:
		engine.handleLoad(ctx)
	case path == TEXTURES_PATH && method == fasthttp.MethodDelete:
		engine.handleClear(ctx)
	case strings.HasPrefix(path, TEXTURES_PREFIX):
		engine.handleTexture(ctx, strings.TrimPrefix(path, TEXTURES_PREFIX))
	default:
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	}
}

func (engine *TxCacheEngine) handleMetrics(ctx *fasthttp.RequestCtx) {
	engine.metrics(ctx)
}

func (engine *TxCacheEngine) handleStats(ctx *fasthttp.RequestCtx) {
	engine.mu.Lock()
	stats := statsResponse{
		Backend:        engine.cache.Backend(),
		File:           engine.cache.FileName(),
		Entries:        engine.cache.Size(),
		TotalSize:      engine.cache.TotalSize(),
		TotalSizeHuman: humanize.IBytes(engine.cache.TotalSize()),
		CacheLimit:     engine.cache.CacheLimit(),
		Options:        fmt.Sprintf("%#08x", engine.cache.GetOptions()),
		Fingerprint:    engine.cache.Fingerprint(),
	}
	engine.mu.Unlock()

	body, err := json.Marshal(stats)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (engine *TxCacheEngine) handleSave(ctx *fasthttp.RequestCtx) {
	engine.mu.Lock()
	err := engine.cache.Save()
	engine.mu.Unlock()

	if err != nil {
		engine.logger.Error("cache save failed", zap.Error(err))
		engine.writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (engine *TxCacheEngine) handleLoad(ctx *fasthttp.RequestCtx) {
	force := ctx.QueryArgs().GetBool("force")

	engine.mu.Lock()
	err := engine.cache.Load(force)
	engine.mu.Unlock()

	if err != nil {
		engine.writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (engine *TxCacheEngine) handleClear(ctx *fasthttp.RequestCtx) {
	engine.mu.Lock()
	engine.cache.Clear()
	engine.mu.Unlock()

	engine.logger.Info("cache cleared")
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (engine *TxCacheEngine) handleTexture(ctx *fasthttp.RequestCtx, key string) {
	checksum, err := models.ParseChecksum(key)
	if err != nil || !checksum.Valid() {
		ctx.Error("invalid checksum", fasthttp.StatusBadRequest)
		return
	}

	switch string(ctx.Method()) {
	case fasthttp.MethodGet:
		engine.getTexture(ctx, checksum)
	case fasthttp.MethodHead:
		engine.mu.Lock()
		cached := engine.cache.IsCached(checksum)
		engine.mu.Unlock()
		if !cached {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	case fasthttp.MethodPut:
		engine.putTexture(ctx, checksum)
	case fasthttp.MethodDelete:
		engine.mu.Lock()
		err := engine.cache.Delete(checksum)
		engine.mu.Unlock()
		if err != nil {
			engine.writeError(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	default:
		ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
	}
}

func (engine *TxCacheEngine) getTexture(ctx *fasthttp.RequestCtx, checksum models.Checksum) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	info, ok, err := engine.cache.Get(checksum)
	if err != nil {
		engine.writeError(ctx, err)
		return
	}
	if !ok {
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return
	}

	header := &ctx.Response.Header
	header.Set(HEADER_WIDTH, strconv.Itoa(int(info.Width)))
	header.Set(HEADER_HEIGHT, strconv.Itoa(int(info.Height)))
	header.Set(HEADER_FORMAT, strconv.FormatUint(uint64(info.Format), 10))
	header.Set(HEADER_TEXTURE_FORMAT, strconv.FormatUint(uint64(info.TextureFormat), 10))
	header.Set(HEADER_PIXEL_TYPE, strconv.FormatUint(uint64(info.PixelType), 10))
	header.Set(HEADER_HIRES, strconv.FormatBool(info.IsHiresTex))
	ctx.SetContentType("application/octet-stream")
	// SetBody copies, so the cache may reuse info.Data afterwards.
	ctx.SetBody(info.Data)
}

func (engine *TxCacheEngine) putTexture(ctx *fasthttp.RequestCtx, checksum models.Checksum) {
	info, dataSize, err := parseTextureHeaders(&ctx.Request.Header)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}
	info.Data = ctx.PostBody()

	engine.mu.Lock()
	err = engine.cache.Add(checksum, info, dataSize)
	engine.mu.Unlock()

	if err != nil {
		engine.writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusCreated)
}

func parseTextureHeaders(header *fasthttp.RequestHeader) (*models.TexInfo, int, error) {
	var info models.TexInfo

	width, err := strconv.ParseInt(string(header.Peek(HEADER_WIDTH)), 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid %s header", HEADER_WIDTH)
	}
	height, err := strconv.ParseInt(string(header.Peek(HEADER_HEIGHT)), 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid %s header", HEADER_HEIGHT)
	}
	format, err := strconv.ParseUint(string(header.Peek(HEADER_FORMAT)), 0, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid %s header", HEADER_FORMAT)
	}
	info.Width = int32(width)
	info.Height = int32(height)
	info.Format = uint32(format)

	if v := header.Peek(HEADER_TEXTURE_FORMAT); len(v) > 0 {
		n, err := strconv.ParseUint(string(v), 0, 16)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid %s header", HEADER_TEXTURE_FORMAT)
		}
		info.TextureFormat = uint16(n)
	}
	if v := header.Peek(HEADER_PIXEL_TYPE); len(v) > 0 {
		n, err := strconv.ParseUint(string(v), 0, 16)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid %s header", HEADER_PIXEL_TYPE)
		}
		info.PixelType = uint16(n)
	}
	if v := header.Peek(HEADER_HIRES); len(v) > 0 {
		hires, err := strconv.ParseBool(string(v))
		if err != nil {
			return nil, 0, fmt.Errorf("invalid %s header", HEADER_HIRES)
		}
		info.IsHiresTex = hires
	}

	dataSize := 0
	if v := header.Peek(HEADER_DATA_SIZE); len(v) > 0 {
		n, err := strconv.Atoi(string(v))
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("invalid %s header", HEADER_DATA_SIZE)
		}
		dataSize = n
	}
	return &info, dataSize, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cache.ErrInvalidChecksum),
		errors.Is(err, cache.ErrInvalidArgument),
		errors.Is(err, cache.ErrUnknownFormat):
		return fasthttp.StatusBadRequest
	case errors.Is(err, cache.ErrDuplicate), errors.Is(err, cache.ErrConfigMismatch):
		return fasthttp.StatusConflict
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fasthttp.StatusNotFound
	case errors.Is(err, cache.ErrUnsupported):
		return fasthttp.StatusNotImplemented
	default:
		return fasthttp.StatusInternalServerError
	}
}

func (engine *TxCacheEngine) writeError(ctx *fasthttp.RequestCtx, err error) {
	status := statusFor(err)
	if status == fasthttp.StatusInternalServerError {
		engine.logger.Error("request failed", zap.String("path", string(ctx.Path())), zap.Error(err))
	}
	ctx.Error(err.Error(), status)
}

func (engine *TxCacheEngine) storePid() error {
	storageDir := engine.config.Storage.Path
	if err := fs.EnsureDir(storageDir); err != nil {
		return err
	}

	path := filepath.Join(storageDir, PID_FILE)
	if err := os.WriteFile(path, []byte(strconv.Itoa(engine.pid)), 0o644); err != nil {
		return err
	}

	engine.logger.Info("stored program id", zap.String("file", path), zap.Int("pid", engine.pid))
	return nil
}

func (engine *TxCacheEngine) cleanup() error {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if engine.config.Cache.SaveOnExit {
		if err := engine.cache.Save(); err != nil {
			engine.logger.Error("failed to save the cache", zap.Error(err))
		}
	}

	if err := engine.cache.Close(); err != nil {
		engine.logger.Error("failed to close the cache", zap.Error(err))
	}
	engine.logger.Info("cache closed")

	pidFile := filepath.Join(engine.config.Storage.Path, PID_FILE)
	err := os.Remove(pidFile)
	if err != nil {
		engine.logger.Error("failed to remove pid file", zap.Error(err))
	} else {
		engine.logger.Info("pid file removed")
	}

	engine.logger.Close()
	return err
}
