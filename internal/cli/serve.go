package cli

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/syncd/internal/engine"
	"github.com/roach88/syncd/internal/httpapi"
	"github.com/roach88/syncd/internal/recovery"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string // overrides server.addr when set
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP sync server",
		Long: `Serve the sync API, the metrics endpoint and the client bundle until
interrupted. Unmaterialized log entries are recovered at startup and on the
recovery.cron schedule.

Examples:
  syncd serve
  syncd serve --config /etc/syncd.yaml --addr 127.0.0.1:9000`,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := opts.openSession(cmd, engine.WithMetrics(engine.NewMetrics(reg)))
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.Addr != "" {
		s.cfg.Server.Addr = opts.Addr
	}

	sched, err := recovery.New(s.engine, s.cfg.Recovery.Cron, s.cfg.Recovery.OnStart,
		recovery.WithLogger(s.logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid recovery config", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s.logger.Info("syncd starting",
		"backend", s.cfg.Storage.Backend,
		"path", s.cfg.Storage.Path,
		"ui_path", s.cfg.Server.UIPath,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	srv := httpapi.New(s.engine, s.cfg, httpapi.WithLogger(s.logger), httpapi.WithGatherer(reg))
	err = srv.ListenAndServe(ctx)

	// the scheduler must stop before the backend closes
	cancel()
	wg.Wait()

	if err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}
