package models

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	BACKEND_MEMORY = "memory"
	BACKEND_FILE   = "file"
	BACKEND_REDIS  = "redis"
)

type LogConfig struct {
	ToFile       bool   `yaml:"toFile"`
	FilePath     string `yaml:"filePath"`
	ToStdout     bool   `yaml:"toStdout"`
	Prefix       string `yaml:"prefix"`
	DebugEnabled bool   `yaml:"debugEnabled"`
	JSON         bool   `yaml:"json"`
}

type ServerConfig struct {
	Port uint16 `yaml:"port"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address      string `yaml:"address"`
	Password     string `yaml:"password"`
	DB           *int   `yaml:"db"`
	KeyNamespace string `yaml:"keyNamespace"`
}

// ByteSize is a byte count that unmarshals from either a number or a
// human readable string such as "256MB".
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalYAML() (any, error) {
	return humanize.IBytes(uint64(b)), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

type CacheConfig struct {
	Backend     string       `yaml:"backend"`
	Capacity    ByteSize     `yaml:"capacity"`
	Codec       string       `yaml:"codec"`
	Compress    bool         `yaml:"compress"`
	Ident       string       `yaml:"ident"`
	LoadOnStart bool         `yaml:"loadOnStart"`
	SaveOnExit  bool         `yaml:"saveOnExit"`
	Redis       *RedisConfig `yaml:"redis"`
}

// FilterConfig is the subset of renderer settings that shape filtered
// textures. Its encoding feeds the cache file fingerprint.
type FilterConfig struct {
	FilterMode      uint32 `yaml:"filterMode"`
	EnhancementMode uint32 `yaml:"enhancementMode"`
	Compression     uint32 `yaml:"compression"`
	CompressTex     bool   `yaml:"compressTex"`
	Force16Bpp      bool   `yaml:"force16bpp"`
	IgnoreBG        bool   `yaml:"ignoreBackground"`
	HiresEnable     bool   `yaml:"hiresEnable"`
	HiresFullAlpha  bool   `yaml:"hiresFullAlphaChannel"`
	BilinearMode    *int   `yaml:"bilinearMode,omitempty"`
	MaxAnisotropy   *int   `yaml:"maxAnisotropy,omitempty"`
}

// Options packs the filter settings into TxCache option bits.
func (f *FilterConfig) Options() uint32 {
	if f == nil {
		return NO_OPTIONS
	}
	options := f.FilterMode & FILTER_MASK
	options |= (f.EnhancementMode << 8) & ENHANCEMENT_MASK
	options |= (f.Compression << 12) & COMPRESSION_MASK
	if f.CompressTex {
		options |= COMPRESS_TEX
	}
	if f.Force16Bpp {
		options |= FORCE16BPP_TEX
	}
	return options
}

// ProfileConfig overrides filter settings for matching content identities.
type ProfileConfig struct {
	Name   string        `yaml:"name"`
	Match  []string      `yaml:"match"`
	Filter *FilterConfig `yaml:"filter"`
}

type TxCacheConfig struct {
	Log      *LogConfig      `yaml:"log"`
	Server   *ServerConfig   `yaml:"server"`
	Storage  *StorageConfig  `yaml:"storage"`
	Cache    *CacheConfig    `yaml:"cache"`
	Filter   *FilterConfig   `yaml:"filter"`
	Profiles []ProfileConfig `yaml:"profiles"`
}
