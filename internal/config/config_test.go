package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"GRAPHLOG_CONFIG", "PORT", "GRAPHLOG_ADDR", "GRAPHLOG_WORKERS", "DATA_PATH",
	"GRAPHLOG_LOG_PATH", "GRAPHLOG_BACKEND", "METRICS_ADDR", "LOG_LEVEL", "TLOG_ORIGIN",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, filepath.Join("./data", "graphlog.log"), cfg.StoragePath())

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadFromPath_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "graphlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listenAddr: 0.0.0.0:9000
workers: 3
backend: sqlite
dataDir: /var/lib/graphlog
origin: example.com/log
`), 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "/var/lib/graphlog/graphlog.db", cfg.StoragePath())
	assert.Equal(t, "example.com/log", cfg.Origin)

	t.Setenv("GRAPHLOG_WORKERS", "8")
	t.Setenv("PORT", "7000")
	t.Setenv("GRAPHLOG_BACKEND", "FILE")
	t.Setenv("GRAPHLOG_LOG_PATH", "/tmp/custom.log")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err = LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, BackendFile, cfg.Backend)
	assert.Equal(t, "/tmp/custom.log", cfg.StoragePath())
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_AddrOverridesPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")
	t.Setenv("GRAPHLOG_ADDR", "127.0.0.1:7001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.ListenAddr)
}

func TestLoad_UsesConfigEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "graphlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: none\n"), 0644))
	t.Setenv("GRAPHLOG_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendNone, cfg.Backend)
	assert.Empty(t, cfg.StoragePath())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		yaml string
	}{
		{name: "bad workers env", env: map[string]string{"GRAPHLOG_WORKERS": "many"}},
		{name: "zero workers", env: map[string]string{"GRAPHLOG_WORKERS": "0"}},
		{name: "unknown backend", env: map[string]string{"GRAPHLOG_BACKEND": "postgres"}},
		{name: "bad level", env: map[string]string{"LOG_LEVEL": "loud"}},
		{name: "bad yaml", yaml: "workers: [1, 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = filepath.Join(t.TempDir(), "graphlog.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			}
			_, err := LoadFromPath(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
