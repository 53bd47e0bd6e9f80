package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/syncd/internal/engine"
)

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Rebuild state from the log and verify determinism",
		Long: `Replay the transaction log into a scratch in-memory store and compare its
digest with the live record store.

Exit codes:
  0 - Replay reproduces the live store
  1 - Replay mismatch (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  syncd replay
  syncd replay --format json`,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd)
		},
	}
}

func runReplay(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out := opts.formatter(cmd)
	result, err := s.engine.Verify(cmd.Context())

	var mismatch *engine.ReplayMismatchError
	if errors.As(err, &mismatch) {
		if outErr := out.Error("REPLAY_MISMATCH", mismatch.Error(), mismatch.Details); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "replay is not deterministic", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Replayed %s entries up to position %s\n",
			humanize.Comma(int64(result.Entries)), humanize.Comma(result.Position))
		fmt.Fprintf(w, "%s records, digest %s\n", humanize.Comma(int64(result.Records)), result.Digest)
		out.VerboseLog("replay matches live store")
	})
}
