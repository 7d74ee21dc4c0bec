// Package config loads graphlog server settings from defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Config holds server settings.
type Config struct {
	ListenAddr  string `yaml:"listenAddr"`
	Workers     int    `yaml:"workers"`
	DataDir     string `yaml:"dataDir"`
	LogPath     string `yaml:"logPath"`
	Backend     string `yaml:"backend"`
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
	Origin      string `yaml:"origin"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:7878",
		Workers:    runtime.NumCPU(),
		DataDir:    "./data",
		Backend:    BackendFile,
		LogLevel:   "info",
		Origin:     "graphlog",
	}
}

// Load builds the configuration. If the GRAPHLOG_CONFIG environment
// variable names a file, it is read as YAML over the defaults; environment
// overrides are applied last.
func Load() (Config, error) {
	return LoadFromPath(os.Getenv("GRAPHLOG_CONFIG"))
}

// LoadFromPath is Load with an explicit config file. An empty path skips
// the file.
func LoadFromPath(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides replaces settings with any set environment variables.
func ApplyEnvOverrides(cfg *Config) error {
	if port := getEnv("PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	if addr := getEnv("GRAPHLOG_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if raw := getEnv("GRAPHLOG_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("GRAPHLOG_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if dir := getEnv("DATA_PATH"); dir != "" {
		cfg.DataDir = dir
	}
	if path := getEnv("GRAPHLOG_LOG_PATH"); path != "" {
		cfg.LogPath = path
	}
	if backend := getEnv("GRAPHLOG_BACKEND"); backend != "" {
		cfg.Backend = strings.ToLower(backend)
	}
	if addr := getEnv("METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if level := getEnv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if origin := getEnv("TLOG_ORIGIN"); origin != "" {
		cfg.Origin = origin
	}
	return nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	switch c.Backend {
	case BackendFile, BackendSQLite, BackendNone:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Origin == "" {
		return errors.New("origin is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// StoragePath is where the selected backend keeps the log: LogPath when
// set, otherwise a backend-specific file under DataDir.
func (c Config) StoragePath() string {
	if c.LogPath != "" {
		return c.LogPath
	}
	switch c.Backend {
	case BackendSQLite:
		return filepath.Join(c.DataDir, "graphlog.db")
	case BackendNone:
		return ""
	default:
		return filepath.Join(c.DataDir, "graphlog.log")
	}
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
