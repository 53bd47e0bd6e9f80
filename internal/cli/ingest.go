package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/roach88/syncd/internal/ir"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	File string // "-" reads stdin
}

// IngestResult is the output of the ingest command.
type IngestResult struct {
	SyncID       int64 `json:"sync_id"`
	Transactions int   `json:"transactions"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Append one batch of transactions",
		Long: `Read a JSON array of transactions and commit it as one batch.
The file may be UTF-8, or UTF-16 with a byte order mark.

Exit codes:
  0 - Batch committed
  1 - Batch rejected (empty batch, invalid action)
  2 - Command error (unreadable file, storage failure)

Examples:
  syncd ingest --file batch.json
  cat batch.json | syncd ingest --file -`,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "batch file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runIngest(opts *IngestOptions, cmd *cobra.Command) error {
	batch, err := readBatch(opts.File, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read batch", err)
	}

	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if _, err := s.engine.Recover(ctx); err != nil {
		s.logger.Warn("recover before ingest failed", "error", err)
	}

	position, err := s.engine.Ingest(ctx, batch)
	switch {
	case errors.Is(err, ir.ErrEmptyBatch), ir.IsInvalidAction(err):
		return WrapExitError(ExitFailure, "batch rejected", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "ingest failed", err)
	}

	result := IngestResult{SyncID: position, Transactions: len(batch)}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Committed %s transaction(s) at position %s\n",
			humanize.Comma(int64(result.Transactions)), humanize.Comma(result.SyncID))
	})
}

func readBatch(path string, stdin io.Reader) (ir.Batch, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	// editors on Windows save UTF-16 or BOM-prefixed UTF-8
	r = transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	var batch ir.Batch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return batch, nil
}
