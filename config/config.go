// Package config loads profz settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvEnabled   = "PROFZ_ENABLED"
	EnvWorkers   = "PROFZ_WORKERS"
	EnvQueueSize = "PROFZ_QUEUE_SIZE"
	EnvStorePath = "PROFZ_STORE_PATH"
	EnvMetrics   = "PROFZ_METRICS_ADDR"
)

// Config holds profiler, storage and metrics settings.
type Config struct {
	Classify  map[string]string `yaml:"classify"`
	Store     StoreConfig       `yaml:"store"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Workers   int               `yaml:"workers"`
	QueueSize int               `yaml:"queue_size"`
	Enabled   bool              `yaml:"enabled"`
}

// StoreConfig configures the sqlite report store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Enabled:   true,
		Workers:   2,
		QueueSize: 256,
		Store:     StoreConfig{Path: "profz.db"},
		Metrics:   MetricsConfig{Addr: ":9464", Namespace: "profz"},
	}
}

// Load reads path on top of Default, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEnabled, err)
		}
		c.Enabled = b
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvQueueSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvQueueSize, err)
		}
		c.QueueSize = n
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvMetrics); v != "" {
		c.Metrics.Addr = v
	}
	return nil
}

// Validate checks the configuration for values the profiler cannot use.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if c.Workers > 0 && c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue_size must be > 0 when workers are enabled, got %d", c.QueueSize))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path must be set"))
	}
	if c.Metrics.Namespace == "" {
		errs = append(errs, errors.New("metrics.namespace must be set"))
	}
	return errors.Join(errs...)
}
