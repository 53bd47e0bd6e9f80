package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/syncd/internal/config"
	"github.com/roach88/syncd/internal/engine"
	"github.com/roach88/syncd/internal/kv"
	"github.com/roach88/syncd/internal/memstore"
	"github.com/roach88/syncd/internal/store"
)

// loadConfig loads and validates the config named by --config.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Verbose {
		cfg.Logger.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// newLogger builds a slog.Logger for the logger section, writing to w.
func newLogger(cfg config.LoggerConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	hopts := &slog.HandlerOptions{Level: level, AddSource: level < slog.LevelInfo}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	return slog.New(handler), nil
}

// openBackend opens the storage medium selected by storage.backend.
func openBackend(cfg config.StorageConfig) (engine.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return store.Open(cfg.Path)
	case config.BackendPebble:
		return kv.Open(cfg.Path)
	case config.BackendMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// session bundles what a command needs to talk to the engine.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	backend engine.Backend
	engine  *engine.Engine
}

func (s *session) Close() error {
	return s.backend.Close()
}

// openSession loads config, sets up logging to stderr and opens the engine.
func (o *RootOptions) openSession(cmd *cobra.Command, engineOpts ...engine.Option) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Logger, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid logger config", err)
	}

	backend, err := openBackend(cfg.Storage)
	if err != nil {
		return nil, WrapExitError(ExitCommandError,
			fmt.Sprintf("failed to open %s backend at %s", cfg.Storage.Backend, cfg.Storage.Path), err)
	}
	logger.Debug("backend opened", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)

	engineOpts = append([]engine.Option{engine.WithLogger(logger)}, engineOpts...)
	return &session{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		engine:  engine.New(backend, backend, engineOpts...),
	}, nil
}
