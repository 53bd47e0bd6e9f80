package engine

import (
	"context"
	"fmt"

	"github.com/roach88/syncd/internal/ir"
)

// observer is implemented by clocks that can be advanced past a known
// timestamp (MonotonicClock).
type observer interface {
	Observe(t int64)
}

// Recover replays every log entry above the store's materialized position,
// in order, using each entry's CommittedAt. It returns how many entries were
// applied. Safe to call at any time; with nothing to do it returns 0.
//
// Recover also advances the engine clock past the last logged CommittedAt, so
// stamps stay increasing across restarts even if the wall clock went back.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ctx = context.WithoutCancel(ctx)

	if err := e.observeLastCommit(ctx); err != nil {
		return 0, err
	}

	n, err := e.catchUp(ctx)
	if n > 0 {
		e.logger.Info("recovered unmaterialized log entries", "entries", n)
	}
	if err != nil {
		e.metrics.replayFailed()
		return n, fmt.Errorf("recover: %w", err)
	}
	return n, nil
}

func (e *Engine) observeLastCommit(ctx context.Context) error {
	obs, ok := e.clock.(observer)
	if !ok {
		return nil
	}

	max, err := e.log.MaxPosition(ctx)
	if err != nil {
		return ir.Persistence("max position", err)
	}
	if max == 0 {
		return nil
	}
	entries, err := e.log.ReadRange(ctx, max, max)
	if err != nil {
		return ir.Persistence("read last entry", err)
	}
	if len(entries) > 0 {
		obs.Observe(entries[0].CommittedAt)
	}
	return nil
}

// catchUp applies entries above the materialized position. It stops at the
// first failure so the store never skips an entry. Caller must hold e.mu.
func (e *Engine) catchUp(ctx context.Context) (int, error) {
	materialized, err := e.store.MaterializedPosition(ctx)
	if err != nil {
		return 0, ir.Persistence("materialized position", err)
	}

	entries, err := e.log.ReadRange(ctx, materialized+1, ir.Unbounded)
	if err != nil {
		return 0, ir.Persistence("read range", err)
	}

	applied := 0
	for _, entry := range entries {
		if err := e.store.ApplyBatch(ctx, entry.Position, entry.Batch, entry.CommittedAt); err != nil {
			return applied, fmt.Errorf("apply entry %d: %w", entry.Position, err)
		}
		applied++
		e.metrics.applied(entry.Position, 1)
	}
	return applied, nil
}
