package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/syncd/internal/ir"
)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	From int64
	To   int64
}

// FetchResult is the output of the fetch command.
type FetchResult struct {
	SyncID       int64            `json:"sync_id"`
	Transactions []ir.Transaction `json:"transactions"`
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Print logged transactions in a position range",
		Long: `Print every transaction logged at positions [from, to], in order.

A from of 0 starts at the first position. Without --to the range is open
ended; an explicit --to below --from selects nothing.

Examples:
  syncd fetch
  syncd fetch --from 10 --to 20 --format json`,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 0, "first position (inclusive)")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "last position (inclusive); unbounded when unset")

	return cmd
}

func runFetch(opts *FetchOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	to := opts.To
	if !cmd.Flags().Changed("to") {
		to = ir.Unbounded
	}

	horizon, txs, err := s.engine.FetchRange(cmd.Context(), opts.From, to)
	if err != nil {
		return WrapExitError(ExitCommandError, "fetch failed", err)
	}

	result := FetchResult{SyncID: horizon, Transactions: txs}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		if len(txs) == 0 {
			fmt.Fprintln(w, "No transactions in range.")
			return
		}
		for _, tx := range txs {
			fmt.Fprintf(w, "%-6s %s/%s\n", tx.Action, tx.Type, tx.ID)
		}
		fmt.Fprintf(w, "\n%s transaction(s), sync_id %s\n",
			humanize.Comma(int64(len(txs))), humanize.Comma(horizon))
	})
}
