// Package config loads server configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the server.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Index    IndexConfig    `mapstructure:"index"`
	LogLevel string         `mapstructure:"log_level"`
}

// StorageConfig holds the dual-store paths.
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`     // Directory for both databases
	VectorDB    string `mapstructure:"vector_db"`    // Vector database filename
	GraphDB     string `mapstructure:"graph_db"`     // Graph database filename
	HistorySize int    `mapstructure:"history_size"` // Retired transactions to keep
}

// EmbedderConfig holds embedding provider configuration.
type EmbedderConfig struct {
	Provider  string `mapstructure:"provider"` // http, mock
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	CacheSize int    `mapstructure:"cache_size"`
}

// BatchConfig tunes adaptive batch sizing.
type BatchConfig struct {
	DefaultSize    int     `mapstructure:"default_size"`
	MinSize        int     `mapstructure:"min_size"`
	MaxSize        int     `mapstructure:"max_size"`
	GrowthFactor   float64 `mapstructure:"growth_factor"`
	GoodThroughput float64 `mapstructure:"good_throughput"` // Chunks per second
}

// MemoryConfig tunes the memory guard.
type MemoryConfig struct {
	ThresholdPercent float64 `mapstructure:"threshold_percent"`
	BudgetBytes      uint64  `mapstructure:"budget_bytes"`
}

// PipelineConfig tunes incremental re-indexing.
type PipelineConfig struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
}

// IndexConfig tunes bulk indexing.
type IndexConfig struct {
	Workers       int  `mapstructure:"workers"`
	IncludeTests  bool `mapstructure:"include_tests"`
	IncludeVendor bool `mapstructure:"include_vendor"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:     defaultDataDir(),
			VectorDB:    "vector.db",
			GraphDB:     "graph.db",
			HistorySize: 100,
		},
		Embedder: EmbedderConfig{
			Provider:  "mock",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
			CacheSize: 10000,
		},
		Batch: BatchConfig{
			DefaultSize:    50,
			MinSize:        10,
			MaxSize:        500,
			GrowthFactor:   1.5,
			GoodThroughput: 100,
		},
		Memory: MemoryConfig{
			ThresholdPercent: 80,
		},
		Pipeline: PipelineConfig{
			DebounceWindow: 500 * time.Millisecond,
		},
		Index: IndexConfig{
			IncludeTests: true,
		},
		LogLevel: "info",
	}
}

// Load loads configuration from file and environment. Environment
// variables use the TWININDEX_ prefix with underscores for nesting,
// e.g. TWININDEX_EMBEDDER_PROVIDER.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".twinindex"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TWININDEX")
	v.AutomaticEnv()

	bindings := map[string]string{
		"storage.data_dir":         "TWININDEX_STORAGE_DATA_DIR",
		"storage.vector_db":        "TWININDEX_STORAGE_VECTOR_DB",
		"storage.graph_db":         "TWININDEX_STORAGE_GRAPH_DB",
		"embedder.provider":        "TWININDEX_EMBEDDER_PROVIDER",
		"embedder.base_url":        "TWININDEX_EMBEDDER_BASE_URL",
		"embedder.model":           "TWININDEX_EMBEDDER_MODEL",
		"embedder.dimension":       "TWININDEX_EMBEDDER_DIMENSION",
		"batch.default_size":       "TWININDEX_BATCH_DEFAULT_SIZE",
		"batch.min_size":           "TWININDEX_BATCH_MIN_SIZE",
		"batch.max_size":           "TWININDEX_BATCH_MAX_SIZE",
		"memory.threshold_percent": "TWININDEX_MEMORY_THRESHOLD_PERCENT",
		"pipeline.debounce_window": "TWININDEX_PIPELINE_DEBOUNCE_WINDOW",
		"index.workers":            "TWININDEX_INDEX_WORKERS",
		"log_level":                "TWININDEX_LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir cannot be empty")
	}
	if c.Batch.MinSize > c.Batch.MaxSize {
		return fmt.Errorf("batch min_size %d exceeds max_size %d", c.Batch.MinSize, c.Batch.MaxSize)
	}
	if c.Memory.ThresholdPercent < 0 || c.Memory.ThresholdPercent > 100 {
		return fmt.Errorf("memory threshold_percent must be within [0, 100], got %v", c.Memory.ThresholdPercent)
	}
	switch c.Embedder.Provider {
	case "http", "mock":
	default:
		return fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider)
	}
	return nil
}

// VectorDBPath returns the absolute vector database path.
func (c *Config) VectorDBPath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.VectorDB)
}

// GraphDBPath returns the absolute graph database path.
func (c *Config) GraphDBPath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.GraphDB)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".twinindex"
	}
	return filepath.Join(home, ".twinindex")
}
