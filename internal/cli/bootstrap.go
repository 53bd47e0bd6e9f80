package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/syncd/internal/ir"
)

// BootstrapResult is the output of the bootstrap command.
type BootstrapResult struct {
	SyncID int64     `json:"sync_id"`
	Models ir.Models `json:"models"`
}

// NewBootstrapCommand creates the bootstrap command.
func NewBootstrapCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Print the full current state",
		Long: `Print every live record grouped by entity type, with the log position
the snapshot reflects. Use --format json for the same body the HTTP API
returns.`,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(rootOpts, cmd)
		},
	}
}

func runBootstrap(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	horizon, models, err := s.engine.Bootstrap(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "bootstrap failed", err)
	}

	result := BootstrapResult{SyncID: horizon, Models: models}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "sync_id %s\n", humanize.Comma(horizon))

		types := make([]string, 0, len(models))
		for typ := range models {
			types = append(types, typ)
		}
		slices.Sort(types)

		for _, typ := range types {
			fmt.Fprintf(w, "  %-20s %s record(s)\n", typ, humanize.Comma(int64(len(models[typ]))))
		}
	})
}
