package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "syncd.db", cfg.Storage.Path)
	assert.Equal(t, "../ui/dist", cfg.Server.UIPath)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9090
  shutdown_timeout: 10s
storage:
  backend: pebble
  path: /var/lib/syncd
ingest:
  rate_limit: 20
  burst: 5
recovery:
  cron: "@hourly"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "../ui/dist", cfg.Server.UIPath, "unset keys keep defaults")
	assert.Equal(t, BackendPebble, cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/syncd", cfg.Storage.Path)
	assert.Equal(t, 20.0, cfg.Ingest.RateLimit)
	assert.Equal(t, 5, cfg.Ingest.Burst)
	assert.Equal(t, "@hourly", cfg.Recovery.Cron)
	assert.True(t, cfg.Recovery.OnStart)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  bakend: pebble\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bakend")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "storage:\n  path: from-file.db\n")

	t.Setenv("DATABASE_PATH", "from-env.db")
	t.Setenv("UI_PATH", "/srv/ui")
	t.Setenv("SYNCD_ADDR", ":7000")
	t.Setenv("SYNCD_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("SYNCD_RATE_LIMIT", "2.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.Storage.Path)
	assert.Equal(t, "/srv/ui", cfg.Server.UIPath)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, 2.5, cfg.Ingest.RateLimit)
}

func TestLoad_BadRateLimitEnv(t *testing.T) {
	t.Setenv("SYNCD_RATE_LIMIT", "fast")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNCD_RATE_LIMIT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "unknown backend"},
		{"missing path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"memory needs no path", func(c *Config) { c.Storage.Backend = BackendMemory; c.Storage.Path = "" }, ""},
		{"bad addr", func(c *Config) { c.Server.Addr = "localhost" }, "server.addr"},
		{"bad level", func(c *Config) { c.Logger.Level = "loud" }, "logger.level"},
		{"bad format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
		{"negative rate", func(c *Config) { c.Ingest.RateLimit = -1 }, "rate_limit"},
		{"rate without burst", func(c *Config) { c.Ingest.RateLimit = 1; c.Ingest.Burst = 0 }, "burst"},
		{"zero body", func(c *Config) { c.Ingest.MaxBodyBytes = 0 }, "max_body_bytes"},
		{"bad cron", func(c *Config) { c.Recovery.Cron = "every minute" }, "recovery.cron"},
		{"cron disabled", func(c *Config) { c.Recovery.Cron = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	level, err := LoggerConfig{Level: "WARN"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = LoggerConfig{Level: ""}.SlogLevel()
	assert.Error(t, err)
}
