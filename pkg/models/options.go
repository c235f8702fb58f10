package models

// Option bits carried by TxCache and its backends.
const (
	NO_OPTIONS       uint32 = 0x00000000
	FILTER_MASK      uint32 = 0x000000ff
	ENHANCEMENT_MASK uint32 = 0x00000f00
	COMPRESSION_MASK uint32 = 0x0000f000
	COMPRESS_TEX     uint32 = 0x00100000
	GZ_TEXCACHE      uint32 = 0x00400000
	DUMP_TEXCACHE    uint32 = 0x01000000
	FILE_CACHE       uint32 = 0x08000000
	FORCE16BPP_TEX   uint32 = 0x20000000

	// CONFIG_MASK selects the bits that change what ends up in a cache file.
	CONFIG_MASK = FILTER_MASK | ENHANCEMENT_MASK | COMPRESSION_MASK | COMPRESS_TEX | FORCE16BPP_TEX | GZ_TEXCACHE
)
