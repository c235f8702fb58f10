package engine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"txcache/pkg/cachemanager"
	"txcache/pkg/models"
	"txcache/pkg/utils/fs"
	"txcache/pkg/utils/hash"
	"txcache/pkg/utils/logger"
)

const PID_FILE = "txcache.pid"

type TxCacheEngine struct {
	config   *models.TxCacheConfig
	logger   *logger.Logger
	registry *prometheus.Registry
	metrics  fasthttp.RequestHandler
	pid      int

	// mu serializes every call into cache; backends are single threaded.
	mu    sync.Mutex
	cache *cachemanager.TxCache
}

func defaultStoragePath(absConfigPath string) (string, error) {
	storageRoot, err := fs.GetUserAppDataDir("txcache")
	if err != nil {
		return "", fmt.Errorf("failed to determine app data dir: %w", err)
	}
	return filepath.Join(storageRoot, hash.HashString(absConfigPath)), nil
}

// LoadConfig reads the yaml config at configPath and fills in defaults.
func LoadConfig(configPath string) (*models.TxCacheConfig, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read the config-path %s: %w", absPath, err)
	}

	var config models.TxCacheConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse the config at %s: %w", absPath, err)
	}

	if err := applyDefaults(&config, absPath); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyDefaults(config *models.TxCacheConfig, absConfigPath string) error {
	if config.Server == nil {
		config.Server = &models.ServerConfig{}
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Cache == nil {
		config.Cache = &models.CacheConfig{Capacity: DEFAULT_CAPACITY}
	}
	if config.Cache.Backend == "" {
		config.Cache.Backend = models.BACKEND_MEMORY
	}
	switch config.Cache.Backend {
	case models.BACKEND_MEMORY, models.BACKEND_FILE, models.BACKEND_REDIS:
	default:
		return fmt.Errorf("unknown cache backend %q", config.Cache.Backend)
	}
	if config.Cache.Backend == models.BACKEND_REDIS && config.Cache.Redis == nil {
		config.Cache.Redis = &models.RedisConfig{Address: "localhost:6379"}
	}
	if config.Log == nil {
		config.Log = &models.LogConfig{
			ToStdout: true,
			Prefix:   "txcache",
		}
	}
	if config.Storage == nil || config.Storage.Path == "" {
		storagePath, err := defaultStoragePath(absConfigPath)
		if err != nil {
			return err
		}
		config.Storage = &models.StorageConfig{Path: storagePath}
	}
	return nil
}

// CacheOptions derives the option bits for the cache from its config and the
// resolved filter settings.
func CacheOptions(cache *models.CacheConfig, filter *models.FilterConfig) uint32 {
	options := filter.Options()
	if cache.Compress {
		options |= models.GZ_TEXCACHE
	}
	if cache.Backend == models.BACKEND_FILE {
		options |= models.FILE_CACHE
	}
	return options
}

// NewTxCacheEngine builds the logger, metrics and texture cache described by
// config. config must already carry defaults.
func NewTxCacheEngine(config *models.TxCacheConfig) (*TxCacheEngine, error) {
	logger_, err := logger.NewLogger(config.Log)
	if err != nil {
		return nil, fmt.Errorf("unable to instantiate the logger: %w", err)
	}

	filter := config.Filter
	profile, err := cachemanager.MatchProfile(config.Profiles, config.Cache.Ident)
	if err != nil {
		logger_.Close()
		return nil, fmt.Errorf("invalid profile pattern: %w", err)
	}
	if profile != nil {
		filter = cachemanager.Resolve(config.Filter, profile.Filter)
		logger_.Info("profile applied", zap.String("profile", profile.Name), zap.String("ident", config.Cache.Ident))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	txCache, err := cachemanager.NewTxCache(cachemanager.Params{
		Config:    config.Cache,
		Options:   CacheOptions(config.Cache, filter),
		CachePath: config.Storage.Path,
		Ident:     config.Cache.Ident,
		Filter:    filter,
		Metrics:   cachemanager.NewMetrics(registry),
		Logger:    logger_,
	})
	if err != nil {
		logger_.Close()
		return nil, err
	}

	return &TxCacheEngine{
		config:   config,
		logger:   logger_,
		registry: registry,
		metrics:  fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		cache:    txCache,
	}, nil
}

func InstantiateTxCacheEngine(configPath string) *TxCacheEngine {
	config, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Unable to load the config: %v", err)
	}

	engine, err := NewTxCacheEngine(config)
	if err != nil {
		log.Fatalf("Unable to instantiate the engine: %v", err)
	}
	return engine
}
