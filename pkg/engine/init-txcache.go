package engine

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"txcache/pkg/models"
	"txcache/pkg/utils/system"
)

const DEFAULT_CAPACITY = models.ByteSize(256 << 20)

// InitConfig writes a default configuration file to configPath.
func InitConfig(configPath string) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	storageDir, err := defaultStoragePath(absPath)
	if err != nil {
		return err
	}

	freePort, err := system.GetFreePort()
	if err != nil {
		return err
	}

	maxAnisotropy := 0
	defaultConfig := &models.TxCacheConfig{
		Log: &models.LogConfig{
			ToFile:   true,
			FilePath: filepath.Join(storageDir, "txcache.log"),
			ToStdout: true,
			Prefix:   "txcache",
		},
		Server: &models.ServerConfig{
			Port: uint16(freePort),
		},
		Storage: &models.StorageConfig{
			Path: storageDir,
		},
		Cache: &models.CacheConfig{
			Backend:     models.BACKEND_MEMORY,
			Capacity:    DEFAULT_CAPACITY,
			Codec:       "zlib",
			Compress:    true,
			LoadOnStart: true,
			SaveOnExit:  true,
		},
		Filter: &models.FilterConfig{
			FilterMode:      1,
			EnhancementMode: 0,
			HiresEnable:     true,
			MaxAnisotropy:   &maxAnisotropy,
		},
		Profiles: []models.ProfileConfig{
			{
				Name:   "example-profile",
				Match:  []string{"^ZELDA"},
				Filter: &models.FilterConfig{EnhancementMode: 4},
			},
		},
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return err
	}

	f, err := os.Create(absPath)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	return enc.Encode(defaultConfig)
}
