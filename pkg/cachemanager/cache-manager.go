package cachemanager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"txcache/pkg/cache"
	"txcache/pkg/codec"
	"txcache/pkg/models"
	"txcache/pkg/utils/logger"
)

const (
	DEFAULT_IDENT = "DEFAULT"

	MEMORY_CACHE_SUFFIX = "_MEMORYCACHE.htc"
	STORAGE_SUFFIX      = "_STORAGE.htc"
)

type Params struct {
	Config    *models.CacheConfig
	Options   uint32
	CachePath string
	Ident     string
	Filter    *models.FilterConfig
	Metrics   *Metrics
	Logger    *logger.Logger
}

// TxCache picks a backend from the options and cache config and forwards to
// it. It derives the cache file name and config fingerprint used by Save and
// Load.
type TxCache struct {
	cache       cache.ICache
	backend     string
	cachePath   string
	ident       string
	filter      []byte
	codec       codec.Codec
	compressBuf []byte
	metrics     *Metrics
	logger      *logger.Logger
}

func NewTxCache(p Params) (*TxCache, error) {
	config := p.Config
	if config == nil {
		config = &models.CacheConfig{}
	}

	c, ok := codec.ByName(config.Codec)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", config.Codec)
	}

	filter, err := yaml.Marshal(p.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter config: %w", err)
	}

	tc := &TxCache{
		cachePath: p.CachePath,
		ident:     p.Ident,
		filter:    filter,
		codec:     c,
		metrics:   p.Metrics,
		logger:    p.Logger,
	}

	switch {
	case p.Options&models.FILE_CACHE != 0:
		tc.backend = models.BACKEND_FILE
		tc.cache = cache.NewFileStorage(p.Options, p.CachePath, tc.FileName(), c, p.Logger)
	case config.Backend == models.BACKEND_REDIS:
		if config.Redis == nil {
			return nil, fmt.Errorf("redis backend selected without redis config")
		}
		redisCache := cache.NewRedisCache(config.Redis, p.Options, c, p.Logger)
		if err := redisCache.Ping(); err != nil {
			p.Logger.Warn("redis not reachable", zap.String("address", config.Redis.Address), zap.Error(err))
		}
		tc.backend = models.BACKEND_REDIS
		tc.cache = redisCache
	default:
		tc.backend = models.BACKEND_MEMORY
		tc.cache = cache.NewMemoryCache(p.Options, uint64(config.Capacity), c, p.Logger)
	}

	p.Logger.Info("texture cache ready",
		zap.String("backend", tc.backend),
		zap.String("codec", c.Name()),
		zap.String("file", tc.FileName()),
		zap.Stringer("capacity", config.Capacity))

	tc.observe()
	return tc, nil
}

// EncodeIdent escapes spaces and single quotes the way cache file names expect.
func EncodeIdent(ident string) string {
	ident = strings.ReplaceAll(ident, " ", "%20")
	return strings.ReplaceAll(ident, "'", "%27")
}

func (tc *TxCache) Backend() string {
	return tc.backend
}

func (tc *TxCache) CachePath() string {
	return tc.cachePath
}

func (tc *TxCache) Ident() string {
	return tc.ident
}

func (tc *TxCache) FileName() string {
	ident := EncodeIdent(tc.ident)
	if ident == "" {
		ident = DEFAULT_IDENT
	}
	if tc.backend == models.BACKEND_FILE {
		return ident + STORAGE_SUFFIX
	}
	return ident + MEMORY_CACHE_SUFFIX
}

// Fingerprint identifies the settings a cache file was produced with. It never
// returns cache.FAKE_CONFIG.
func (tc *TxCache) Fingerprint() int32 {
	digest := xxhash.New()
	digest.Write(tc.filter)

	var options [4]byte
	binary.LittleEndian.PutUint32(options[:], tc.cache.GetOptions()&models.CONFIG_MASK)
	digest.Write(options[:])
	digest.WriteString(tc.codec.Name())

	sum := digest.Sum64()
	config := int32(uint32(sum) ^ uint32(sum>>32))
	if config == cache.FAKE_CONFIG {
		config = 0
	}
	return config
}

func (tc *TxCache) observe() {
	tc.metrics.observe(tc.cache.Size(), tc.cache.TotalSize(), tc.cache.CacheLimit())
}

// Add stores a texture. With GZ_TEXCACHE set, uncompressed payloads are
// compressed first; a payload that does not shrink is stored as is.
func (tc *TxCache) Add(checksum models.Checksum, info *models.TexInfo, dataSize int) error {
	if info != nil && !info.Compressed() && tc.cache.GetOptions()&models.GZ_TEXCACHE != 0 {
		if compressed, ok := tc.compress(checksum, info, dataSize); ok {
			info = compressed
			dataSize = len(compressed.Data)
		}
	}

	before := tc.cache.Size()
	err := tc.cache.Add(checksum, info, dataSize)
	switch {
	case err == nil:
		tc.metrics.add("stored")
		if after := tc.cache.Size(); after <= before {
			tc.metrics.evicted(before + 1 - after)
		}
	case errors.Is(err, cache.ErrDuplicate):
		tc.metrics.add("duplicate")
	default:
		tc.metrics.add("rejected")
	}
	tc.observe()
	return err
}

func (tc *TxCache) compress(checksum models.Checksum, info *models.TexInfo, dataSize int) (*models.TexInfo, bool) {
	size := dataSize
	if size == 0 {
		size = info.DataSize()
	}
	if size <= 0 || size > len(info.Data) {
		return nil, false
	}

	out, err := tc.codec.Compress(tc.compressBuf[:0], info.Data[:size])
	if err != nil {
		tc.metrics.codecFailure()
		tc.logger.Warn("texture compression failed", zap.Stringer("checksum", checksum), zap.Error(err))
		return nil, false
	}
	tc.compressBuf = out
	if len(out) >= size {
		return nil, false
	}

	compressed := *info
	compressed.Data = out
	compressed.Format |= models.FORMAT_GZ
	return &compressed, true
}

func (tc *TxCache) Get(checksum models.Checksum) (models.TexInfo, bool, error) {
	info, ok, err := tc.cache.Get(checksum)
	if errors.Is(err, cache.ErrCodec) {
		tc.metrics.codecFailure()
	}
	if ok {
		tc.metrics.hit()
	} else {
		tc.metrics.miss()
	}
	return info, ok, err
}

func (tc *TxCache) Save() error {
	err := tc.cache.Save(tc.cachePath, tc.FileName(), tc.Fingerprint())
	tc.observe()
	return err
}

// Load reads the cache file for the current ident and settings. A file
// written with other settings is left alone unless force is set.
func (tc *TxCache) Load(force bool) error {
	err := tc.cache.Load(tc.cachePath, tc.FileName(), tc.Fingerprint(), force)
	if errors.Is(err, cache.ErrConfigMismatch) {
		tc.logger.Warn("cache file written with different settings, not loaded",
			zap.String("file", tc.FileName()), zap.Error(err))
	}
	tc.observe()
	return err
}

func (tc *TxCache) Delete(checksum models.Checksum) error {
	err := tc.cache.Delete(checksum)
	tc.observe()
	return err
}

func (tc *TxCache) IsCached(checksum models.Checksum) bool {
	return tc.cache.IsCached(checksum)
}

func (tc *TxCache) Clear() {
	tc.cache.Clear()
	tc.observe()
}

func (tc *TxCache) Empty() bool {
	return tc.cache.Empty()
}

func (tc *TxCache) Size() uint64 {
	return tc.cache.Size()
}

func (tc *TxCache) TotalSize() uint64 {
	return tc.cache.TotalSize()
}

func (tc *TxCache) CacheLimit() uint64 {
	return tc.cache.CacheLimit()
}

func (tc *TxCache) GetOptions() uint32 {
	return tc.cache.GetOptions()
}

func (tc *TxCache) SetOptions(options uint32) {
	tc.cache.SetOptions(options)
}

func (tc *TxCache) Close() error {
	return tc.cache.Close()
}
