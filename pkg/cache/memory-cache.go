package cache

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"txcache/pkg/codec"
	"txcache/pkg/models"
	"txcache/pkg/utils/logger"
)

type entry struct {
	size    uint64
	info    models.TexInfo
	element lruHandle
}

// MemoryCache keeps textures in memory. With a non-zero cache limit it evicts
// least recently used entries to stay within the byte budget.
type MemoryCache struct {
	options    uint32
	cacheLimit uint64
	totalSize  uint64
	items      map[models.Checksum]*entry
	order      *lruList
	codec      codec.Codec
	scratch    scratchRing
	logger     *logger.Logger
}

func NewMemoryCache(options uint32, cacheLimit uint64, c codec.Codec, log *logger.Logger) *MemoryCache {
	if c == nil {
		c = codec.Default
	}
	return &MemoryCache{
		options:    options,
		cacheLimit: cacheLimit,
		items:      make(map[models.Checksum]*entry),
		order:      newLRUList(),
		codec:      c,
		logger:     log,
	}
}

func (c *MemoryCache) Add(checksum models.Checksum, info *models.TexInfo, dataSize int) error {
	size, err := storedSize(checksum, info, dataSize)
	if err != nil {
		return err
	}
	if _, ok := c.items[checksum]; ok {
		return ErrDuplicate
	}

	if c.cacheLimit != 0 {
		c.evict(uint64(size))
	}

	data := make([]byte, size)
	copy(data, info.Data)

	e := &entry{
		size:    uint64(size),
		info:    *info,
		element: nilHandle,
	}
	e.info.Data = data

	if c.cacheLimit != 0 {
		e.element = c.order.pushBack(checksum)
	}
	c.items[checksum] = e
	c.totalSize += uint64(size)

	c.logger.Debug("texture cached",
		zap.Stringer("checksum", checksum),
		zap.Int32("width", info.Width),
		zap.Int32("height", info.Height),
		zap.Uint32("format", info.Format&models.FORMAT_MASK),
		zap.String("total", humanize.Bytes(c.totalSize)))

	return nil
}

// evict drops least recently used entries until incoming bytes fit the budget.
func (c *MemoryCache) evict(incoming uint64) {
	for c.totalSize+incoming > c.cacheLimit {
		checksum, ok := c.order.popFront()
		if !ok {
			return
		}
		if e, found := c.items[checksum]; found {
			c.totalSize -= e.size
			delete(c.items, checksum)
			c.logger.Debug("texture evicted", zap.Stringer("checksum", checksum), zap.Uint64("size", e.size))
		}
	}
}

func (c *MemoryCache) Get(checksum models.Checksum) (models.TexInfo, bool, error) {
	if !checksum.Valid() || len(c.items) == 0 {
		return models.TexInfo{}, false, nil
	}

	e, ok := c.items[checksum]
	if !ok {
		return models.TexInfo{}, false, nil
	}

	if c.cacheLimit != 0 {
		c.order.moveToBack(e.element)
	}

	info := e.info
	if info.Compressed() {
		format := info.Format &^ models.FORMAT_GZ
		data, err := c.scratch.decompress(c.codec, info.Data, models.SizeOfTex(info.Width, info.Height, format))
		if err != nil {
			c.logger.Warn("texture decompression failed", zap.Stringer("checksum", checksum), zap.Error(err))
			return models.TexInfo{}, false, fmt.Errorf("%w: %s: %v", ErrCodec, checksum, err)
		}
		c.logger.Debug("texture decompressed",
			zap.Stringer("checksum", checksum),
			zap.Int("from", len(info.Data)),
			zap.Int("to", len(data)))
		info.Data = data
		info.Format = format
	}

	return info, true, nil
}

// Save writes every entry to a gzip wrapped stream file. Bounded caches are
// written oldest first so a reload reproduces the recency order.
func (c *MemoryCache) Save(path, filename string, config int32) error {
	var checksums []models.Checksum
	if c.cacheLimit != 0 {
		checksums = make([]models.Checksum, 0, c.order.Len())
		c.order.each(func(checksum models.Checksum) {
			checksums = append(checksums, checksum)
		})
	} else {
		checksums = make([]models.Checksum, 0, len(c.items))
		for checksum := range c.items {
			checksums = append(checksums, checksum)
		}
		slices.Sort(checksums)
	}

	target := filepath.Join(path, filename)
	err := WriteStreamFile(target, config, func(sw *StreamWriter) error {
		for _, checksum := range checksums {
			if err := sw.Write(checksum, &c.items[checksum].info); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save memory cache to %s: %w", target, err)
	}

	c.logger.Info("memory cache saved",
		zap.String("file", target),
		zap.Int("entries", len(checksums)),
		zap.String("total", humanize.Bytes(c.totalSize)))
	return nil
}

// Load adds every record of a stream file. Entries already cached are kept.
func (c *MemoryCache) Load(path, filename string, config int32, force bool) error {
	source := filepath.Join(path, filename)
	stream, err := OpenStreamFile(source)
	if err != nil {
		return fmt.Errorf("failed to open memory cache %s: %w", source, err)
	}
	defer stream.Close()

	if stream.Config != config && !force {
		return fmt.Errorf("%w: %s has %d, want %d", ErrConfigMismatch, source, stream.Config, config)
	}

	var (
		info    models.TexInfo
		loaded  int
		skipped int
	)
	for {
		checksum, err := stream.Next(&info)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, errRecordTooLarge) {
			skipped++
			continue
		}
		if err != nil {
			c.logger.Warn("memory cache load stopped early", zap.String("file", source), zap.Error(err))
			break
		}

		dataSize := 0
		if info.Compressed() {
			dataSize = len(info.Data)
		}
		if err := c.Add(checksum, &info, dataSize); err != nil {
			skipped++
			continue
		}
		loaded++
	}

	c.logger.Info("memory cache loaded",
		zap.String("file", source),
		zap.Int("loaded", loaded),
		zap.Int("skipped", skipped),
		zap.String("total", humanize.Bytes(c.totalSize)))
	return nil
}

func (c *MemoryCache) Delete(checksum models.Checksum) error {
	if !checksum.Valid() {
		return ErrInvalidChecksum
	}

	e, ok := c.items[checksum]
	if !ok {
		return ErrNotFound
	}

	c.order.remove(e.element)
	delete(c.items, checksum)
	c.totalSize -= e.size

	c.logger.Debug("texture removed", zap.Stringer("checksum", checksum))
	return nil
}

func (c *MemoryCache) IsCached(checksum models.Checksum) bool {
	_, ok := c.items[checksum]
	return ok
}

func (c *MemoryCache) Clear() {
	c.items = make(map[models.Checksum]*entry)
	c.order.reset()
	c.totalSize = 0
}

func (c *MemoryCache) Empty() bool {
	return len(c.items) == 0
}

func (c *MemoryCache) Size() uint64 {
	return uint64(len(c.items))
}

func (c *MemoryCache) TotalSize() uint64 {
	return c.totalSize
}

func (c *MemoryCache) CacheLimit() uint64 {
	return c.cacheLimit
}

func (c *MemoryCache) GetOptions() uint32 {
	return c.options
}

func (c *MemoryCache) SetOptions(options uint32) {
	c.options = options
}

func (c *MemoryCache) Close() error {
	c.Clear()
	return nil
}
