// Package config loads and defaults the engine's tunables: where it
// keeps its files on disk, the thresholds that trigger flush and
// compaction, and how it logs.
package config

import (
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"
)

// Config holds everything the engine needs to start.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Storage StorageConfig `yaml:"storage"`
}

// LoggerConfig controls the global slog handler.
type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig holds the engine's base directory and its
// size/count thresholds.
type StorageConfig struct {
	BaseDir             string `yaml:"base_dir"`
	MemLimit            int    `yaml:"mem_limit"`
	CompactionThreshold int    `yaml:"compaction_threshold"`
	MaxRecordBytes      int    `yaml:"max_record_bytes"`
}

// Default returns the baseline configuration: small thresholds chosen
// for testability, not throughput.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Storage: StorageConfig{
			BaseDir:             "./data",
			MemLimit:            5,
			CompactionThreshold: 3,
			MaxRecordBytes:      16 * 1024 * 1024,
		},
	}
}

// Load reads path as YAML and returns the result. A missing file is
// not an error: Load returns Default() instead.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return Default(), nil
		}
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewLogger builds the slog.Logger described by cfg and installs it
// as the process default.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "DEBUG", "debug":
		level = slog.LevelDebug
	case "WARN", "warn":
		level = slog.LevelWarn
	case "ERROR", "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
