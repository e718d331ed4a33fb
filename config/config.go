// Package config loads the gojoheap YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	pagemanager "github.com/sushant-115/gojoheap/core/write_engine/page_manager"
	"github.com/sushant-115/gojoheap/pkg/logger"
	"github.com/sushant-115/gojoheap/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// StorageConfig describes the database file and the buffer pool over it.
type StorageConfig struct {
	DBPath   string `yaml:"db_path"`
	PageSize int    `yaml:"page_size"`
	PoolSize int    `yaml:"pool_size"`
	// MaxDirEntries caps entries per directory page; 0 uses the page capacity.
	MaxDirEntries int `yaml:"max_dir_entries"`
	// MaxWriteBytesPerSec throttles page write-back; 0 disables throttling.
	MaxWriteBytesPerSec int64 `yaml:"max_write_bytes_per_sec"`
}

type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			DBPath:   "gojoheap.db",
			PageSize: pagemanager.DefaultPageSize,
			PoolSize: 64,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
			Service:    logger.DefaultService,
		},
		Telemetry: telemetry.Config{
			ServiceName:      "gojoheap",
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads path over the defaults and validates the result. Keys missing
// from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path is required"))
	}
	if err := pagemanager.ValidatePageSize(c.Storage.PageSize); err != nil {
		errs = append(errs, fmt.Errorf("storage.page_size: %w", err))
	}
	if c.Storage.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("storage.pool_size must be at least 1, got %d", c.Storage.PoolSize))
	}
	if c.Storage.MaxDirEntries < 0 {
		errs = append(errs, fmt.Errorf("storage.max_dir_entries must not be negative, got %d", c.Storage.MaxDirEntries))
	}
	if c.Storage.MaxWriteBytesPerSec < 0 {
		errs = append(errs, fmt.Errorf("storage.max_write_bytes_per_sec must not be negative, got %d", c.Storage.MaxWriteBytesPerSec))
	}
	return errors.Join(errs...)
}
