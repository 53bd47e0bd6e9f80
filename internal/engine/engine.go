package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/syncd/internal/ir"
)

// TransactionLog durably stores batches in commit order.
// Implemented by store.Store (SQLite), kv.Store (Pebble) and memstore.Store.
type TransactionLog interface {
	// Append persists batch as one unit at max+1 (or 1) and returns the position.
	Append(ctx context.Context, batch ir.Batch, committedAt int64) (int64, error)

	// ReadRange returns entries in [from, to], ascending. from <= 0 means 1;
	// pass ir.Unbounded for an open upper end. An empty range yields an
	// empty slice.
	ReadRange(ctx context.Context, from, to int64) ([]ir.LogEntry, error)

	// MaxPosition returns 0 for an empty log.
	MaxPosition(ctx context.Context) (int64, error)
}

// PayloadStore holds the materialized current value of every record.
type PayloadStore interface {
	Upsert(ctx context.Context, id, entityType string, data ir.IRValue, now int64) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (ir.Record, bool, error)
	ListAll(ctx context.Context) (ir.Models, error)

	// ApplyBatch replays one log entry atomically and records position as
	// materialized. Positions at or below the materialized one are skipped.
	ApplyBatch(ctx context.Context, position int64, batch ir.Batch, now int64) error

	MaterializedPosition(ctx context.Context) (int64, error)
}

// Backend is a storage medium providing both halves.
type Backend interface {
	TransactionLog
	PayloadStore
	io.Closer
}

// Engine is the sync engine. All methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	log     TransactionLog
	store   PayloadStore
	clock   Clock
	metrics *Metrics
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to stamp batches.
//
// Default: NewMonotonicClock()
// Tests use testutil.NewDeterministicClock() for reproducible timestamps.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over log and store. They may be the same Backend.
func New(log TransactionLog, store PayloadStore, opts ...Option) *Engine {
	e := &Engine{
		log:    log,
		store:  store,
		clock:  NewMonotonicClock(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Ingest validates batch, appends it to the log and applies it to the store.
//
// Validation happens before any write: an empty batch fails with
// ir.ErrEmptyBatch and an unknown action with *ir.InvalidActionError, leaving
// log and store untouched. A failed append returns *ir.PersistenceError.
//
// If the append succeeds but applying to the store fails, the position is
// still returned with a nil error; the failure is logged and counted and the
// entry is picked up by the next Recover.
func (e *Engine) Ingest(ctx context.Context, batch ir.Batch) (int64, error) {
	if err := validate(batch); err != nil {
		switch {
		case errors.Is(err, ir.ErrEmptyBatch):
			e.metrics.rejected("empty_batch")
		default:
			e.metrics.rejected("invalid_action")
		}
		return 0, fmt.Errorf("ingest: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	now := e.clock.Next()
	position, err := e.log.Append(ctx, batch, now)
	if err != nil {
		e.metrics.rejected("persistence")
		return 0, fmt.Errorf("ingest: %w", ir.Persistence("append", err))
	}

	if err := e.materialize(ctx, position, batch, now); err != nil {
		e.metrics.replayFailed()
		e.logger.Error("batch logged but not applied to store",
			"position", position,
			"transactions", len(batch),
			"error", err,
		)
	}

	e.metrics.ingested(position, len(batch), time.Since(start).Seconds())
	e.logger.Debug("batch ingested",
		"position", position,
		"transactions", len(batch),
		"committed_at", now,
	)

	return position, nil
}

// validate checks the batch without touching storage.
func validate(batch ir.Batch) error {
	if len(batch) == 0 {
		return ir.ErrEmptyBatch
	}
	for i, t := range batch {
		if !t.Action.Valid() {
			return &ir.InvalidActionError{Action: string(t.Action), Index: i}
		}
	}
	return nil
}

// materialize applies the just-logged entry. If the store lags further
// behind (an earlier replay failed), the missing entries are applied first.
// Caller must hold e.mu.
func (e *Engine) materialize(ctx context.Context, position int64, batch ir.Batch, now int64) error {
	materialized, err := e.store.MaterializedPosition(ctx)
	if err != nil {
		return err
	}

	if materialized == position-1 {
		if err := e.store.ApplyBatch(ctx, position, batch, now); err != nil {
			return err
		}
		e.metrics.applied(position, 0)
		return nil
	}

	n, err := e.catchUp(ctx)
	if n > 0 {
		e.logger.Info("store caught up with log", "entries", n, "position", position)
	}
	return err
}

// FetchRange returns every transaction logged in [from, to], flattened in
// position then batch order, and the highest position present in the range
// (0 when the range is empty). from <= 0 means 1; only ir.Unbounded leaves
// the upper end open.
func (e *Engine) FetchRange(ctx context.Context, from, to int64) (int64, []ir.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	ctx = context.WithoutCancel(ctx)

	entries, err := e.log.ReadRange(ctx, from, to)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch range: %w", ir.Persistence("read range", err))
	}

	var horizon int64
	txs := []ir.Transaction{}
	for _, entry := range entries {
		horizon = entry.Position
		txs = append(txs, entry.Batch...)
	}

	return horizon, txs, nil
}

// Bootstrap returns the full current state and the log position it reflects.
// Both are read inside the critical section, so no batch lands between them.
//
// If the store lags behind the log, the missing entries are applied first.
// Should that fail, the horizon reported is the materialized position so a
// client's next FetchRange(horizon+1, ...) still delivers the missing entries.
func (e *Engine) Bootstrap(ctx context.Context) (int64, ir.Models, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	ctx = context.WithoutCancel(ctx)

	horizon, err := e.log.MaxPosition(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("bootstrap: %w", ir.Persistence("max position", err))
	}

	materialized, err := e.store.MaterializedPosition(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("bootstrap: %w", ir.Persistence("materialized position", err))
	}

	if materialized < horizon {
		if _, err := e.catchUp(ctx); err != nil {
			e.metrics.replayFailed()
			e.logger.Warn("bootstrap serving lagging store",
				"horizon", horizon,
				"error", err,
			)
		}
		if horizon, err = e.store.MaterializedPosition(ctx); err != nil {
			return 0, nil, fmt.Errorf("bootstrap: %w", ir.Persistence("materialized position", err))
		}
	}

	models, err := e.store.ListAll(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("bootstrap: %w", ir.Persistence("list records", err))
	}

	return horizon, models, nil
}

// Status reports the log horizon and how far the store has caught up.
func (e *Engine) Status(ctx context.Context) (ir.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	horizon, err := e.log.MaxPosition(ctx)
	if err != nil {
		return ir.Status{}, fmt.Errorf("status: %w", ir.Persistence("max position", err))
	}
	materialized, err := e.store.MaterializedPosition(ctx)
	if err != nil {
		return ir.Status{}, fmt.Errorf("status: %w", ir.Persistence("materialized position", err))
	}

	e.metrics.status(horizon, materialized)
	return ir.Status{
		Horizon:      horizon,
		Materialized: materialized,
		Diverged:     materialized != horizon,
	}, nil
}

// Get returns the current record for id.
func (e *Engine) Get(ctx context.Context, id string) (ir.Record, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok, err := e.store.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return ir.Record{}, false, fmt.Errorf("get %q: %w", id, ir.Persistence("get record", err))
	}
	return rec, ok, nil
}
