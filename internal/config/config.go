// Package config loads syncd configuration from a YAML file and the
// environment.
//
// Precedence, lowest first: Default(), the YAML file, environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by storage.backend.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Logger   LoggerConfig   `yaml:"logger"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Recovery RecoveryConfig `yaml:"recovery"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	UIPath            string        `yaml:"ui_path"` // static client bundle; empty disables
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"` // file for sqlite, directory for pebble
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type IngestConfig struct {
	RateLimit    float64 `yaml:"rate_limit"` // batches per second; 0 disables
	Burst        int     `yaml:"burst"`
	MaxBodyBytes int64   `yaml:"max_body_bytes"`
}

type RecoveryConfig struct {
	OnStart bool   `yaml:"on_start"`
	Cron    string `yaml:"cron"` // empty disables periodic recovery
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              "0.0.0.0:8080",
			UIPath:            "../ui/dist",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    "syncd.db",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
		Ingest: IngestConfig{
			RateLimit:    0,
			Burst:        50,
			MaxBodyBytes: 4 << 20,
		},
		Recovery: RecoveryConfig{
			OnStart: true,
			Cron:    "*/5 * * * *",
		},
	}
}

// Load reads path over Default() and then applies environment overrides.
// An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("config file not found, using defaults", "path", path)
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos don't silently fall back to defaults.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays environment variables. DATABASE_PATH and UI_PATH keep
// the names earlier deployments used.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"DATABASE_PATH", &c.Storage.Path},
		{"UI_PATH", &c.Server.UIPath},
		{"SYNCD_ADDR", &c.Server.Addr},
		{"SYNCD_BACKEND", &c.Storage.Backend},
		{"LOG_LEVEL", &c.Logger.Level},
		{"LOG_FORMAT", &c.Logger.Format},
		{"SYNCD_RECOVERY_CRON", &c.Recovery.Cron},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok {
			*s.dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("SYNCD_RATE_LIMIT"); ok {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("SYNCD_RATE_LIMIT: %w", err)
		}
		c.Ingest.RateLimit = rps
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendPebble:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for backend %q", c.Storage.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q (want sqlite, pebble or memory)", c.Storage.Backend)
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}

	if _, err := c.Logger.SlogLevel(); err != nil {
		return fmt.Errorf("logger.level: %w", err)
	}
	if c.Logger.Format != "text" && c.Logger.Format != "json" {
		return fmt.Errorf("logger.format: must be text or json, got %q", c.Logger.Format)
	}

	if c.Ingest.RateLimit < 0 {
		return fmt.Errorf("ingest.rate_limit: must be >= 0")
	}
	if c.Ingest.RateLimit > 0 && c.Ingest.Burst < 1 {
		return fmt.Errorf("ingest.burst: must be >= 1 when rate_limit is set")
	}
	if c.Ingest.MaxBodyBytes <= 0 {
		return fmt.Errorf("ingest.max_body_bytes: must be > 0")
	}

	if c.Recovery.Cron != "" && !gronx.IsValid(c.Recovery.Cron) {
		return fmt.Errorf("recovery.cron: invalid expression %q", c.Recovery.Cron)
	}

	return nil
}

// SlogLevel parses Level ("debug", "INFO", "warn+2", ...).
func (l LoggerConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, err
	}
	return level, nil
}
