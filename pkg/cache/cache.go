package cache

import (
	"errors"
	"fmt"

	"txcache/pkg/models"
)

var (
	ErrInvalidChecksum = errors.New("invalid checksum")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownFormat   = errors.New("unknown texture format")
	ErrDuplicate       = errors.New("checksum already cached")
	ErrNotFound        = errors.New("checksum not cached")
	ErrCodec           = errors.New("payload codec failure")
	ErrConfigMismatch  = errors.New("cache file config mismatch")
	ErrCorrupted       = errors.New("corrupted cache file")
	ErrUnsupported     = errors.New("operation not supported by backend")
)

// ICache is the contract every texture cache backend implements.
//
// Backends are not safe for concurrent use. TexInfo.Data returned by Get is
// owned by the backend and stays valid until the second following Get, or
// until the entry is deleted or the cache is cleared.
type ICache interface {
	// Add stores a private copy of info. A zero dataSize means the stored size
	// is computed from the texture dimensions and format; compressed payloads
	// must pass their compressed size.
	Add(checksum models.Checksum, info *models.TexInfo, dataSize int) error
	Get(checksum models.Checksum) (models.TexInfo, bool, error)
	Save(path, filename string, config int32) error
	Load(path, filename string, config int32, force bool) error
	Delete(checksum models.Checksum) error
	IsCached(checksum models.Checksum) bool
	Clear()
	Empty() bool
	Size() uint64
	TotalSize() uint64
	CacheLimit() uint64
	GetOptions() uint32
	SetOptions(options uint32)
	Close() error
}

// storedSize validates an Add request and returns the number of payload
// bytes to store.
func storedSize(checksum models.Checksum, info *models.TexInfo, dataSize int) (int, error) {
	if !checksum.Valid() {
		return 0, ErrInvalidChecksum
	}
	if info == nil || len(info.Data) == 0 {
		return 0, fmt.Errorf("%w: empty payload", ErrInvalidArgument)
	}

	if dataSize == 0 {
		dataSize = info.DataSize()
		if dataSize == 0 {
			return 0, fmt.Errorf("%w: %#x", ErrUnknownFormat, info.Format&models.FORMAT_MASK)
		}
	}

	if dataSize < 0 || dataSize > len(info.Data) {
		return 0, fmt.Errorf("%w: stored size %d, payload %d bytes", ErrInvalidArgument, dataSize, len(info.Data))
	}
	return dataSize, nil
}

// rejected reports whether err is a per-entry refusal rather than a backend failure.
func rejected(err error) bool {
	return errors.Is(err, ErrInvalidChecksum) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrUnknownFormat) ||
		errors.Is(err, ErrDuplicate)
}
