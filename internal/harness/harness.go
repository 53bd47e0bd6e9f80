package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/syncd/internal/engine"
	"github.com/roach88/syncd/internal/ir"
	"github.com/roach88/syncd/internal/memstore"
	"github.com/roach88/syncd/internal/testutil"
)

// Harness executes the steps of one scenario.
type Harness struct {
	engine *engine.Engine
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store. Step mismatches are
// reported in Result.Errors; the returned error is reserved for failures that
// stop the run (bad step data, storage faults).
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	backend := memstore.New()
	defer backend.Close()

	h := &Harness{
		engine: engine.New(backend, backend,
			engine.WithClock(testutil.NewDeterministicClock()),
			engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // suppress logs
		),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		var err error
		if step.Fetch != nil {
			err = h.executeFetch(ctx, i, step, result)
		} else {
			err = h.executeIngest(ctx, i, step, result)
		}
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if err := h.finish(ctx, scenario.Expect, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (h *Harness) executeIngest(ctx context.Context, seq int, step Step, result *Result) error {
	batch, err := step.batch()
	if err != nil {
		return err
	}

	event := TraceEvent{Seq: seq, Op: OpIngest, Batch: batch}

	position, err := h.engine.Ingest(ctx, batch)
	kind := rejectionKind(err)
	if err != nil && kind == "" {
		return err
	}
	event.SyncID = position
	event.Error = kind
	result.Trace = append(result.Trace, event)

	switch {
	case step.ExpectError == "" && kind != "":
		result.AddError(fmt.Sprintf("step %d: ingest rejected with %s: %v", seq, kind, err))
	case step.ExpectError != "" && kind == "":
		result.AddError(fmt.Sprintf("step %d: expected %s, batch was accepted at position %d", seq, step.ExpectError, position))
	case step.ExpectError != kind:
		result.AddError(fmt.Sprintf("step %d: expected %s, got %s", seq, step.ExpectError, kind))
	}
	return nil
}

// rejectionKind classifies validation errors. Other errors return "".
func rejectionKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ir.ErrEmptyBatch):
		return ErrorEmptyBatch
	case ir.IsInvalidAction(err):
		return ErrorInvalidAction
	default:
		return ""
	}
}

func (h *Harness) executeFetch(ctx context.Context, seq int, step Step, result *Result) error {
	horizon, txs, err := h.engine.FetchRange(ctx, step.Fetch.From, step.Fetch.upper())
	if err != nil {
		return err
	}

	result.Trace = append(result.Trace, TraceEvent{
		Seq:          seq,
		Op:           OpFetch,
		From:         step.Fetch.From,
		To:           step.Fetch.To,
		Transactions: txs,
		SyncID:       horizon,
	})

	if exp := step.Expect; exp != nil {
		if exp.SyncID != nil && *exp.SyncID != horizon {
			result.AddError(fmt.Sprintf("step %d: expected sync_id %d, got %d", seq, *exp.SyncID, horizon))
		}
		if exp.Count != nil && *exp.Count != len(txs) {
			result.AddError(fmt.Sprintf("step %d: expected %d transactions, got %d", seq, *exp.Count, len(txs)))
		}
	}
	return nil
}

// finish bootstraps and checks the final expect block.
func (h *Harness) finish(ctx context.Context, expect *FinalExpect, result *Result) error {
	horizon, models, err := h.engine.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	digest, err := ir.Digest(models)
	if err != nil {
		return err
	}
	result.Horizon = horizon
	result.Models = models
	result.Digest = digest

	if expect == nil {
		return nil
	}

	if expect.Horizon != nil && *expect.Horizon != horizon {
		result.AddError(fmt.Sprintf("expected horizon %d, got %d", *expect.Horizon, horizon))
	}

	for _, msg := range checkModels(models, expect.Models) {
		result.AddError(msg)
	}

	for _, id := range expect.Absent {
		if typ, ok := findModel(models, id); ok {
			result.AddError(fmt.Sprintf("expected %s to be absent, found in %s", id, typ))
		}
	}
	return nil
}
