// Package config loads the engine's YAML configuration file into a single
// struct covering storage, concurrency, and the ambient logging/telemetry
// layers, following the Config-struct-plus-yaml-tags shape used by
// pkg/logger and pkg/telemetry.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gojodb-core/gojodb/pkg/logger"
	"github.com/gojodb-core/gojodb/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// StorageConfig controls the buffer pool, disk manager, and LRU-K replacer.
type StorageConfig struct {
	// DataFile is the path to the single-file page store.
	DataFile string `yaml:"data_file"`
	// PageSize is the fixed page size in bytes.
	PageSize int `yaml:"page_size"`
	// PoolSize is the number of frames the buffer pool holds.
	PoolSize int `yaml:"pool_size"`
	// ReplacerK is the K in LRU-K backward-distance eviction.
	ReplacerK int `yaml:"replacer_k"`
}

// BTreeConfig controls the node fanout of every index opened by the engine.
type BTreeConfig struct {
	// LeafMaxSize is the maximum number of entries a leaf node holds
	// before it splits.
	LeafMaxSize int `yaml:"leaf_max_size"`
	// InternalMaxSize is the maximum number of keys an internal node
	// holds before it splits.
	InternalMaxSize int `yaml:"internal_max_size"`
}

// LockManagerConfig controls the deadlock detector's cadence.
type LockManagerConfig struct {
	// CycleDetectionInterval is how often the background detector scans
	// the wait-for graph.
	CycleDetectionInterval time.Duration `yaml:"cycle_detection_interval"`
}

// Config is the engine's top-level configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	BTree       BTreeConfig       `yaml:"btree"`
	LockManager LockManagerConfig `yaml:"lock_manager"`
	Logger      logger.Config     `yaml:"logger"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			DataFile:  "data/gojodb.db",
			PageSize:  4096,
			PoolSize:  16,
			ReplacerK: 2,
		},
		BTree: BTreeConfig{
			LeafMaxSize:     255,
			InternalMaxSize: 255,
		},
		LockManager: LockManagerConfig{
			CycleDetectionInterval: 50 * time.Millisecond,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stdout",
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "gojodb",
			PrometheusPort:   9464,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads and parses a YAML configuration file, filling in defaults for
// anything the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot safely start with.
func (c Config) Validate() error {
	if c.Storage.PoolSize <= 0 {
		return fmt.Errorf("storage.pool_size must be positive, got %d", c.Storage.PoolSize)
	}
	if c.Storage.ReplacerK <= 0 {
		return fmt.Errorf("storage.replacer_k must be positive, got %d", c.Storage.ReplacerK)
	}
	if c.BTree.LeafMaxSize < 3 {
		return fmt.Errorf("btree.leaf_max_size must be at least 3, got %d", c.BTree.LeafMaxSize)
	}
	if c.BTree.InternalMaxSize < 3 {
		return fmt.Errorf("btree.internal_max_size must be at least 3, got %d", c.BTree.InternalMaxSize)
	}
	if c.LockManager.CycleDetectionInterval <= 0 {
		return fmt.Errorf("lock_manager.cycle_detection_interval must be positive, got %s", c.LockManager.CycleDetectionInterval)
	}
	return nil
}
