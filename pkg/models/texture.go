package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Pixel formats understood by SizeOfTex. Values follow the GL enums the
// texture filter hands us in the low 16 bits of TexInfo.Format.
const (
	GL_ALPHA                         = 0x1906
	GL_RGB                           = 0x1907
	GL_RGBA                          = 0x1908
	GL_LUMINANCE                     = 0x1909
	GL_RGB8                          = 0x8051
	GL_RGBA4                         = 0x8056
	GL_RGB5_A1                       = 0x8057
	GL_RGBA8                         = 0x8058
	GL_LUMINANCE8                    = 0x8040
	GL_COMPRESSED_RGB_S3TC_DXT1_EXT  = 0x83F0
	GL_COMPRESSED_RGBA_S3TC_DXT1_EXT = 0x83F1
	GL_COMPRESSED_RGBA_S3TC_DXT3_EXT = 0x83F2
	GL_COMPRESSED_RGBA_S3TC_DXT5_EXT = 0x83F3
)

const (
	// FORMAT_GZ marks a payload that is stored compressed.
	FORMAT_GZ   uint32 = 0x80000000
	FORMAT_MASK uint32 = 0x0000ffff
)

// Checksum identifies one filtered texture. Zero is reserved.
type Checksum uint64

func (c Checksum) Hi() uint32 {
	return uint32(c >> 32)
}

func (c Checksum) Lo() uint32 {
	return uint32(c)
}

func (c Checksum) Valid() bool {
	return c != 0
}

func (c Checksum) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}

func ParseChecksum(s string) (Checksum, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid checksum %q: %w", s, err)
	}
	return Checksum(v), nil
}

// TexInfo is the metadata and pixel payload of one cached texture.
type TexInfo struct {
	Width         int32
	Height        int32
	Format        uint32
	TextureFormat uint16
	PixelType     uint16
	IsHiresTex    bool
	Data          []byte
}

func (info *TexInfo) Compressed() bool {
	return info.Format&FORMAT_GZ != 0
}

// DataSize is the uncompressed payload size implied by the metadata.
func (info *TexInfo) DataSize() int {
	return SizeOfTex(info.Width, info.Height, info.Format)
}

// SizeOfTex returns the uncompressed size in bytes of a width x height texture
// in the given format, or 0 when the format is unknown.
func SizeOfTex(width, height int32, format uint32) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	w, h := int(width), int(height)

	switch format & FORMAT_MASK {
	case GL_RGBA8, GL_RGBA:
		return (w * h) << 2
	case GL_RGB8:
		return w * h * 3
	case GL_RGB, GL_RGBA4, GL_RGB5_A1:
		return (w * h) << 1
	case GL_LUMINANCE, GL_LUMINANCE8, GL_ALPHA:
		return w * h
	case GL_COMPRESSED_RGB_S3TC_DXT1_EXT, GL_COMPRESSED_RGBA_S3TC_DXT1_EXT:
		return (((w + 3) >> 2) * ((h + 3) >> 2)) << 3
	case GL_COMPRESSED_RGBA_S3TC_DXT3_EXT, GL_COMPRESSED_RGBA_S3TC_DXT5_EXT:
		return (((w + 3) >> 2) * ((h + 3) >> 2)) << 4
	}
	return 0
}
