package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show log horizon and materialized position",
		Long: `Show the highest log position and how far the record store has caught up.

Exit codes:
  0 - Store is up to date
  1 - Store lags behind the log (run "syncd recover")
  2 - Command error`,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.engine.Status(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "status failed", err)
	}

	err = opts.formatter(cmd).Success(st, func(w io.Writer) {
		fmt.Fprintf(w, "backend       %s\n", s.cfg.Storage.Backend)
		fmt.Fprintf(w, "horizon       %s\n", humanize.Comma(st.Horizon))
		fmt.Fprintf(w, "materialized  %s\n", humanize.Comma(st.Materialized))
		if st.Diverged {
			fmt.Fprintf(w, "lagging by    %s entries\n", humanize.Comma(st.Horizon-st.Materialized))
		}
	})
	if err != nil {
		return err
	}
	if st.Diverged {
		return NewExitError(ExitFailure, "record store lags behind the log")
	}
	return nil
}
