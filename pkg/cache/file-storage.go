package cache

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"txcache/pkg/codec"
	"txcache/pkg/models"
	"txcache/pkg/utils/logger"
)

const (
	// config (int32) + index offset (int64)
	STORAGE_HEADER_SIZE = 4 + 8
	// checksum (uint64) + record offset (int64)
	STORAGE_INDEX_ENTRY_SIZE = 8 + 8
)

type storageSlot struct {
	offset int64
	size   int64
}

// FileStorage keeps textures in a single file and only an offset index in
// memory.
//
// File layout: header (config, index offset), records, index. Records are
// appended where the index currently starts; Save rewrites the index after
// the last record and then the header. Delete only drops the index entry,
// the record space is reclaimed by Clear.
type FileStorage struct {
	options   uint32
	cachePath string
	filename  string
	file      *os.File
	index     map[models.Checksum]storageSlot
	totalSize uint64
	writePos  int64
	// synced means the index mirrors the file, so appending is safe.
	synced  bool
	dirty   bool
	readBuf []byte
	codec   codec.Codec
	scratch scratchRing
	logger  *logger.Logger
}

func NewFileStorage(options uint32, cachePath, filename string, c codec.Codec, log *logger.Logger) *FileStorage {
	if c == nil {
		c = codec.Default
	}
	return &FileStorage{
		options:   options,
		cachePath: cachePath,
		filename:  filename,
		index:     make(map[models.Checksum]storageSlot),
		codec:     c,
		logger:    log,
	}
}

func (storage *FileStorage) fullPath() string {
	return filepath.Join(storage.cachePath, storage.filename)
}

// use switches to another storage file, dropping the current index.
func (storage *FileStorage) use(path, filename string) error {
	if path == storage.cachePath && filename == storage.filename {
		return nil
	}
	if err := storage.closeFile(); err != nil {
		return err
	}
	storage.cachePath = path
	storage.filename = filename
	storage.resetIndex()
	storage.synced = false
	return nil
}

func (storage *FileStorage) resetIndex() {
	storage.index = make(map[models.Checksum]storageSlot)
	storage.totalSize = 0
	storage.dirty = false
}

func (storage *FileStorage) open(create bool) error {
	if storage.file != nil {
		return nil
	}

	flags := os.O_RDWR
	if create {
		if err := os.MkdirAll(storage.cachePath, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
		flags |= os.O_CREATE
	}

	file, err := os.OpenFile(storage.fullPath(), flags, 0o644)
	if err != nil {
		return err
	}
	storage.file = file
	storage.logger.Debug("storage file opened", zap.String("file", storage.fullPath()), zap.Bool("create", create))
	return nil
}

// openForWrite makes the file ready for appending. A file whose index was not
// loaded is restarted, since appending would overwrite its index.
func (storage *FileStorage) openForWrite() error {
	if err := storage.open(true); err != nil {
		return err
	}
	if storage.synced {
		return nil
	}
	return storage.truncate()
}

func (storage *FileStorage) truncate() error {
	if err := storage.file.Truncate(0); err != nil {
		return err
	}
	if err := storage.writeHeader(FAKE_CONFIG, STORAGE_HEADER_SIZE); err != nil {
		return err
	}
	storage.writePos = STORAGE_HEADER_SIZE
	storage.synced = true
	return nil
}

func (storage *FileStorage) writeHeader(config int32, indexOffset int64) error {
	var buf [STORAGE_HEADER_SIZE]byte
	byteOrder.PutUint32(buf[0:], uint32(config))
	byteOrder.PutUint64(buf[4:], uint64(indexOffset))
	_, err := storage.file.WriteAt(buf[:], 0)
	return err
}

func (storage *FileStorage) Add(checksum models.Checksum, info *models.TexInfo, dataSize int) error {
	size, err := storedSize(checksum, info, dataSize)
	if err != nil {
		return err
	}
	if _, ok := storage.index[checksum]; ok {
		return ErrDuplicate
	}

	if err := storage.openForWrite(); err != nil {
		return fmt.Errorf("failed to open storage %s: %w", storage.fullPath(), err)
	}

	var header [RECORD_HEADER_SIZE]byte
	putRecordHeader(header[:], info, size)

	offset := storage.writePos
	if _, err := storage.file.WriteAt(header[:], offset); err != nil {
		return err
	}
	if _, err := storage.file.WriteAt(info.Data[:size], offset+RECORD_HEADER_SIZE); err != nil {
		return err
	}

	storage.index[checksum] = storageSlot{offset: offset, size: int64(size)}
	storage.writePos = offset + RECORD_HEADER_SIZE + int64(size)
	storage.totalSize += uint64(size)
	storage.dirty = true

	storage.logger.Debug("texture stored",
		zap.Stringer("checksum", checksum),
		zap.Int64("offset", offset),
		zap.Int("size", size))
	return nil
}

func (storage *FileStorage) Get(checksum models.Checksum) (models.TexInfo, bool, error) {
	if !checksum.Valid() || len(storage.index) == 0 {
		return models.TexInfo{}, false, nil
	}

	slot, ok := storage.index[checksum]
	if !ok {
		return models.TexInfo{}, false, nil
	}

	info, dataSize, err := storage.readHeader(checksum, slot)
	if err != nil {
		return models.TexInfo{}, false, err
	}

	payloadOffset := slot.offset + RECORD_HEADER_SIZE
	if !info.Compressed() {
		info.Data = storage.scratch.acquire(dataSize)
		if _, err := storage.file.ReadAt(info.Data, payloadOffset); err != nil {
			return models.TexInfo{}, false, fmt.Errorf("failed to read record %s: %w", checksum, err)
		}
		return info, true, nil
	}

	if cap(storage.readBuf) < dataSize {
		storage.readBuf = make([]byte, dataSize)
	}
	storage.readBuf = storage.readBuf[:dataSize]
	if _, err := storage.file.ReadAt(storage.readBuf, payloadOffset); err != nil {
		return models.TexInfo{}, false, fmt.Errorf("failed to read record %s: %w", checksum, err)
	}

	format := info.Format &^ models.FORMAT_GZ
	data, err := storage.scratch.decompress(storage.codec, storage.readBuf, models.SizeOfTex(info.Width, info.Height, format))
	if err != nil {
		storage.logger.Warn("texture decompression failed", zap.Stringer("checksum", checksum), zap.Error(err))
		return models.TexInfo{}, false, fmt.Errorf("%w: %s: %v", ErrCodec, checksum, err)
	}
	info.Data = data
	info.Format = format
	return info, true, nil
}

func (storage *FileStorage) readHeader(checksum models.Checksum, slot storageSlot) (models.TexInfo, int, error) {
	var (
		info   models.TexInfo
		header [RECORD_HEADER_SIZE]byte
	)
	if err := storage.open(false); err != nil {
		return info, 0, err
	}
	if _, err := storage.file.ReadAt(header[:], slot.offset); err != nil {
		return info, 0, fmt.Errorf("failed to read record %s: %w", checksum, err)
	}
	dataSize := parseRecordHeader(header[:], &info)
	if dataSize <= 0 || dataSize > MAX_RECORD_SIZE {
		return info, 0, fmt.Errorf("%w: record %s has payload size %d", ErrCorrupted, checksum, dataSize)
	}
	return info, dataSize, nil
}

// Header returns the stored metadata of a record without its payload.
func (storage *FileStorage) Header(checksum models.Checksum) (models.TexInfo, int, error) {
	slot, ok := storage.index[checksum]
	if !ok {
		return models.TexInfo{}, 0, ErrNotFound
	}
	return storage.readHeader(checksum, slot)
}

// Save writes the index after the last record and stamps the header with config.
func (storage *FileStorage) Save(path, filename string, config int32) error {
	if err := storage.use(path, filename); err != nil {
		return err
	}
	if err := storage.openForWrite(); err != nil {
		return fmt.Errorf("failed to open storage %s: %w", storage.fullPath(), err)
	}

	checksums := storage.Checksums()

	buf := make([]byte, 4+len(checksums)*STORAGE_INDEX_ENTRY_SIZE)
	byteOrder.PutUint32(buf[0:], uint32(len(checksums)))
	pos := 4
	for _, checksum := range checksums {
		byteOrder.PutUint64(buf[pos:], uint64(checksum))
		byteOrder.PutUint64(buf[pos+8:], uint64(storage.index[checksum].offset))
		pos += STORAGE_INDEX_ENTRY_SIZE
	}

	if _, err := storage.file.WriteAt(buf, storage.writePos); err != nil {
		return fmt.Errorf("failed to write storage index: %w", err)
	}
	if err := storage.file.Truncate(storage.writePos + int64(len(buf))); err != nil {
		return err
	}
	if err := storage.writeHeader(config, storage.writePos); err != nil {
		return fmt.Errorf("failed to write storage header: %w", err)
	}
	if err := storage.file.Sync(); err != nil {
		return err
	}

	storage.dirty = false
	storage.logger.Info("storage saved",
		zap.String("file", storage.fullPath()),
		zap.Int("entries", len(checksums)),
		zap.String("total", humanize.Bytes(storage.totalSize)))
	return nil
}

// Load replaces the index with the one stored in the file.
func (storage *FileStorage) Load(path, filename string, config int32, force bool) error {
	if err := storage.use(path, filename); err != nil {
		return err
	}
	if err := storage.open(false); err != nil {
		return fmt.Errorf("failed to open storage %s: %w", storage.fullPath(), err)
	}

	stat, err := storage.file.Stat()
	if err != nil {
		return err
	}
	fileSize := stat.Size()

	var header [STORAGE_HEADER_SIZE]byte
	if _, err := storage.file.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrCorrupted, err)
	}
	fileConfig := int32(byteOrder.Uint32(header[0:]))
	indexOffset := int64(byteOrder.Uint64(header[4:]))

	if fileConfig == FAKE_CONFIG {
		if indexOffset != STORAGE_HEADER_SIZE {
			return fmt.Errorf("%w: unsaved storage with index offset %d", ErrCorrupted, indexOffset)
		}
		return fmt.Errorf("%w: storage %s was never saved", ErrNotFound, storage.fullPath())
	}
	if fileConfig != config && !force {
		return fmt.Errorf("%w: %s has %d, want %d", ErrConfigMismatch, storage.fullPath(), fileConfig, config)
	}
	if indexOffset < STORAGE_HEADER_SIZE || indexOffset+4 > fileSize {
		return fmt.Errorf("%w: index offset %d outside file of %d bytes", ErrCorrupted, indexOffset, fileSize)
	}

	var countBuf [4]byte
	if _, err := storage.file.ReadAt(countBuf[:], indexOffset); err != nil {
		return fmt.Errorf("%w: reading index: %v", ErrCorrupted, err)
	}
	count := int64(int32(byteOrder.Uint32(countBuf[:])))
	if count < 0 || indexOffset+4+count*STORAGE_INDEX_ENTRY_SIZE > fileSize {
		return fmt.Errorf("%w: index of %d entries does not fit", ErrCorrupted, count)
	}

	buf := make([]byte, count*STORAGE_INDEX_ENTRY_SIZE)
	if _, err := storage.file.ReadAt(buf, indexOffset+4); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: reading index: %v", ErrCorrupted, err)
	}

	index := make(map[models.Checksum]storageSlot, count)
	var totalSize uint64
	var sizeBuf [4]byte
	for pos := 0; pos < len(buf); pos += STORAGE_INDEX_ENTRY_SIZE {
		checksum := models.Checksum(byteOrder.Uint64(buf[pos:]))
		offset := int64(byteOrder.Uint64(buf[pos+8:]))
		if !checksum.Valid() || offset < STORAGE_HEADER_SIZE || offset+RECORD_HEADER_SIZE > indexOffset {
			return fmt.Errorf("%w: index entry %s at offset %d", ErrCorrupted, checksum, offset)
		}

		if _, err := storage.file.ReadAt(sizeBuf[:], offset+RECORD_HEADER_SIZE-4); err != nil {
			return fmt.Errorf("%w: reading record %s: %v", ErrCorrupted, checksum, err)
		}
		size := int64(int32(byteOrder.Uint32(sizeBuf[:])))
		if size <= 0 || offset+RECORD_HEADER_SIZE+size > indexOffset {
			return fmt.Errorf("%w: record %s has payload size %d", ErrCorrupted, checksum, size)
		}

		index[checksum] = storageSlot{offset: offset, size: size}
		totalSize += uint64(size)
	}

	storage.index = index
	storage.totalSize = totalSize
	storage.writePos = indexOffset
	storage.synced = true
	storage.dirty = false

	storage.logger.Info("storage loaded",
		zap.String("file", storage.fullPath()),
		zap.Int("entries", len(index)),
		zap.String("total", humanize.Bytes(totalSize)))
	return nil
}

func (storage *FileStorage) Delete(checksum models.Checksum) error {
	if !checksum.Valid() {
		return ErrInvalidChecksum
	}
	slot, ok := storage.index[checksum]
	if !ok {
		return ErrNotFound
	}
	delete(storage.index, checksum)
	storage.totalSize -= uint64(slot.size)
	storage.dirty = true
	return nil
}

func (storage *FileStorage) IsCached(checksum models.Checksum) bool {
	_, ok := storage.index[checksum]
	return ok
}

// Clear empties the index and, when a file is open, restarts it.
func (storage *FileStorage) Clear() {
	storage.resetIndex()
	if storage.file == nil {
		storage.synced = false
		return
	}
	if err := storage.truncate(); err != nil {
		storage.logger.Error("failed to truncate storage", zap.String("file", storage.fullPath()), zap.Error(err))
		storage.synced = false
	}
}

func (storage *FileStorage) Empty() bool {
	return len(storage.index) == 0
}

func (storage *FileStorage) Size() uint64 {
	return uint64(len(storage.index))
}

func (storage *FileStorage) TotalSize() uint64 {
	return storage.totalSize
}

func (storage *FileStorage) CacheLimit() uint64 {
	return 0
}

func (storage *FileStorage) GetOptions() uint32 {
	return storage.options
}

func (storage *FileStorage) SetOptions(options uint32) {
	storage.options = options
}

func (storage *FileStorage) closeFile() error {
	if storage.file == nil {
		return nil
	}
	if storage.dirty {
		storage.logger.Warn("closing storage with unsaved entries", zap.String("file", storage.fullPath()))
	}
	err := storage.file.Close()
	storage.file = nil
	return err
}

func (storage *FileStorage) Close() error {
	return storage.closeFile()
}

// Checksums lists indexed checksums in file order.
func (storage *FileStorage) Checksums() []models.Checksum {
	checksums := make([]models.Checksum, 0, len(storage.index))
	for checksum := range storage.index {
		checksums = append(checksums, checksum)
	}
	slices.SortFunc(checksums, func(a, b models.Checksum) int {
		return cmp.Compare(storage.index[a].offset, storage.index[b].offset)
	})
	return checksums
}
