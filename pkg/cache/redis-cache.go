package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"txcache/pkg/codec"
	"txcache/pkg/models"
	"txcache/pkg/utils/logger"
)

const DEFAULT_REDIS_NAMESPACE = "txcache:"

// RedisCache stores one encoded record per checksum under a key namespace.
// TotalSize only accounts for entries written through this instance.
type RedisCache struct {
	client    *redis.Client
	namespace string
	options   uint32
	totalSize uint64
	timeout   time.Duration
	codec     codec.Codec
	scratch   scratchRing
	logger    *logger.Logger
}

func NewRedisCache(config *models.RedisConfig, options uint32, c codec.Codec, log *logger.Logger) *RedisCache {
	db := 0
	if config.DB != nil {
		db = *config.DB
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       db,
	})
	return newRedisCache(client, config.KeyNamespace, options, c, log)
}

func newRedisCache(client *redis.Client, namespace string, options uint32, c codec.Codec, log *logger.Logger) *RedisCache {
	if namespace == "" {
		namespace = DEFAULT_REDIS_NAMESPACE
	}
	if !strings.HasSuffix(namespace, ":") {
		namespace += ":"
	}
	if c == nil {
		c = codec.Default
	}
	return &RedisCache{
		client:    client,
		namespace: namespace,
		options:   options,
		timeout:   5 * time.Second,
		codec:     c,
		logger:    log,
	}
}

func (r *RedisCache) key(checksum models.Checksum) string {
	return r.namespace + checksum.String()
}

func (r *RedisCache) newContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// Ping reports whether the server is reachable.
func (r *RedisCache) Ping() error {
	ctx, cancel := r.newContext()
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func encodeRecord(info *models.TexInfo, size int) []byte {
	value := make([]byte, RECORD_HEADER_SIZE+size)
	putRecordHeader(value, info, size)
	copy(value[RECORD_HEADER_SIZE:], info.Data[:size])
	return value
}

func decodeRecord(value []byte, info *models.TexInfo) error {
	if len(value) < RECORD_HEADER_SIZE {
		return fmt.Errorf("%w: record of %d bytes", ErrCorrupted, len(value))
	}
	size := parseRecordHeader(value, info)
	if size <= 0 || RECORD_HEADER_SIZE+size > len(value) {
		return fmt.Errorf("%w: record payload size %d", ErrCorrupted, size)
	}
	info.Data = value[RECORD_HEADER_SIZE : RECORD_HEADER_SIZE+size]
	return nil
}

func (r *RedisCache) Add(checksum models.Checksum, info *models.TexInfo, dataSize int) error {
	size, err := storedSize(checksum, info, dataSize)
	if err != nil {
		return err
	}

	ctx, cancel := r.newContext()
	defer cancel()

	added, err := r.client.SetNX(ctx, r.key(checksum), encodeRecord(info, size), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store %s in redis: %w", checksum, err)
	}
	if !added {
		return ErrDuplicate
	}

	r.totalSize += uint64(size)
	return nil
}

func (r *RedisCache) Get(checksum models.Checksum) (models.TexInfo, bool, error) {
	if !checksum.Valid() {
		return models.TexInfo{}, false, nil
	}

	ctx, cancel := r.newContext()
	defer cancel()

	value, err := r.client.Get(ctx, r.key(checksum)).Bytes()
	if err == redis.Nil {
		return models.TexInfo{}, false, nil
	} else if err != nil {
		return models.TexInfo{}, false, err
	}

	var info models.TexInfo
	if err := decodeRecord(value, &info); err != nil {
		return models.TexInfo{}, false, fmt.Errorf("%s: %w", checksum, err)
	}

	if info.Compressed() {
		format := info.Format &^ models.FORMAT_GZ
		data, err := r.scratch.decompress(r.codec, info.Data, models.SizeOfTex(info.Width, info.Height, format))
		if err != nil {
			r.logger.Warn("texture decompression failed", zap.Stringer("checksum", checksum), zap.Error(err))
			return models.TexInfo{}, false, fmt.Errorf("%w: %s: %v", ErrCodec, checksum, err)
		}
		info.Data = data
		info.Format = format
	}
	return info, true, nil
}

// keys lists every key in the namespace.
func (r *RedisCache) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.namespace+"*", 512).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Save streams the namespace into a stream file.
func (r *RedisCache) Save(path, filename string, config int32) error {
	ctx, cancel := r.newContext()
	defer cancel()

	keys, err := r.keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list redis keys: %w", err)
	}

	target := filepath.Join(path, filename)
	saved := 0
	err = WriteStreamFile(target, config, func(sw *StreamWriter) error {
		for _, key := range keys {
			checksum, err := models.ParseChecksum(strings.TrimPrefix(key, r.namespace))
			if err != nil || !checksum.Valid() {
				continue
			}
			value, err := r.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			} else if err != nil {
				return err
			}
			var info models.TexInfo
			if err := decodeRecord(value, &info); err != nil {
				r.logger.Warn("skipping corrupted redis record", zap.String("key", key), zap.Error(err))
				continue
			}
			if err := sw.Write(checksum, &info); err != nil {
				return err
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save redis cache to %s: %w", target, err)
	}

	r.logger.Info("redis cache saved", zap.String("file", target), zap.Int("entries", saved))
	return nil
}

func (r *RedisCache) Load(path, filename string, config int32, force bool) error {
	source := filepath.Join(path, filename)
	stream, err := OpenStreamFile(source)
	if err != nil {
		return fmt.Errorf("failed to open redis cache dump %s: %w", source, err)
	}
	defer stream.Close()

	if stream.Config != config && !force {
		return fmt.Errorf("%w: %s has %d, want %d", ErrConfigMismatch, source, stream.Config, config)
	}

	var (
		info   models.TexInfo
		loaded int
	)
	for {
		checksum, err := stream.Next(&info)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, errRecordTooLarge) {
			continue
		}
		if err != nil {
			r.logger.Warn("redis cache load stopped early", zap.String("file", source), zap.Error(err))
			break
		}

		dataSize := 0
		if info.Compressed() {
			dataSize = len(info.Data)
		}
		err = r.Add(checksum, &info, dataSize)
		if err == nil {
			loaded++
		} else if !rejected(err) {
			return err
		}
	}

	r.logger.Info("redis cache loaded", zap.String("file", source), zap.Int("loaded", loaded))
	return nil
}

func (r *RedisCache) Delete(checksum models.Checksum) error {
	if !checksum.Valid() {
		return ErrInvalidChecksum
	}

	ctx, cancel := r.newContext()
	defer cancel()

	key := r.key(checksum)
	size, err := r.client.StrLen(ctx, key).Result()
	if err != nil {
		return err
	}
	removed, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}

	payload := uint64(max(size-RECORD_HEADER_SIZE, 0))
	r.totalSize -= min(payload, r.totalSize)
	return nil
}

func (r *RedisCache) IsCached(checksum models.Checksum) bool {
	if !checksum.Valid() {
		return false
	}
	ctx, cancel := r.newContext()
	defer cancel()

	n, err := r.client.Exists(ctx, r.key(checksum)).Result()
	return err == nil && n > 0
}

func (r *RedisCache) Clear() {
	ctx, cancel := r.newContext()
	defer cancel()

	keys, err := r.keys(ctx)
	if err != nil {
		r.logger.Error("failed to list redis keys", zap.Error(err))
		return
	}
	for start := 0; start < len(keys); start += 512 {
		end := min(start+512, len(keys))
		if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			r.logger.Error("failed to clear redis keys", zap.Error(err))
			return
		}
	}
	r.totalSize = 0
}

func (r *RedisCache) Empty() bool {
	return r.Size() == 0
}

func (r *RedisCache) Size() uint64 {
	ctx, cancel := r.newContext()
	defer cancel()

	keys, err := r.keys(ctx)
	if err != nil {
		return 0
	}
	return uint64(len(keys))
}

func (r *RedisCache) TotalSize() uint64 {
	return r.totalSize
}

func (r *RedisCache) CacheLimit() uint64 {
	return 0
}

func (r *RedisCache) GetOptions() uint32 {
	return r.options
}

func (r *RedisCache) SetOptions(options uint32) {
	r.options = options
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
