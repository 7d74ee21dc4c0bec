package server

import (
	"log/slog"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/mod/sumdb/note"

	"github.com/relves/graphlog/pkg/tlog"
)

const (
	defaultKeyCacheSize = 1024
	defaultMaxBodyBytes = 1 << 20
)

// Config holds server configuration.
type Config struct {
	Log              *tlog.Log
	CheckpointSigner note.Signer
	Origin           string
	Logger           *slog.Logger
	Workers          int
	Registerer       prometheus.Registerer
	KeyCacheSize     int
	MaxBodyBytes     int64
}

// Option configures the server.
type Option func(*Config)

// WithLog sets the log the server reads and appends to.
func WithLog(l *tlog.Log) Option {
	return func(c *Config) {
		c.Log = l
	}
}

// WithCheckpointSigner sets the key that signs checkpoints.
// If nil (default), GET /checkpoint answers not implemented.
func WithCheckpointSigner(s note.Signer) Option {
	return func(c *Config) {
		c.CheckpointSigner = s
	}
}

// WithOrigin sets the checkpoint origin line.
func WithOrigin(origin string) Option {
	return func(c *Config) {
		c.Origin = origin
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithWorkers sets the size of the worker pool. Defaults to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithRegisterer sets where metrics are registered.
// If nil (default), metrics are collected but not registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = reg
	}
}

// WithKeyCacheSize sets how many parsed public keys are kept.
func WithKeyCacheSize(n int) Option {
	return func(c *Config) {
		c.KeyCacheSize = n
	}
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Config) {
		c.MaxBodyBytes = n
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{
		Origin:       "graphlog",
		Workers:      runtime.NumCPU(),
		KeyCacheSize: defaultKeyCacheSize,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
