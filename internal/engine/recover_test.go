package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncd/internal/engine"
	"github.com/roach88/syncd/internal/ir"
	"github.com/roach88/syncd/internal/testutil"
)

var errDisk = errors.New("disk I/O error")

// flakyBackend wraps a real backend and fails selected calls on demand.
type flakyBackend struct {
	engine.Backend
	failAppend atomic.Bool
	failApply  atomic.Bool
}

func (f *flakyBackend) Append(ctx context.Context, batch ir.Batch, committedAt int64) (int64, error) {
	if f.failAppend.Load() {
		return 0, ir.Persistence("append", errDisk)
	}
	return f.Backend.Append(ctx, batch, committedAt)
}

func (f *flakyBackend) ApplyBatch(ctx context.Context, position int64, batch ir.Batch, now int64) error {
	if f.failApply.Load() {
		return ir.Persistence("apply batch", errDisk)
	}
	return f.Backend.ApplyBatch(ctx, position, batch, now)
}

func TestIngest_AppendFailure(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		f := &flakyBackend{Backend: b}
		e := newEngine(t, f)

		f.failAppend.Store(true)
		_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
		require.Error(t, err)
		assert.True(t, ir.IsPersistence(err))
		assert.ErrorIs(t, err, errDisk)

		horizon, models, err := e.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), horizon)
		assert.Empty(t, models)
	})
}

func TestIngest_ReplayFailureIsRecoverable(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		f := &flakyBackend{Backend: b}
		metrics := engine.NewMetrics(nil)
		e := newEngine(t, f, engine.WithMetrics(metrics))

		_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
		require.NoError(t, err)

		f.failApply.Store(true)
		pos, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionUpdate, "t2")})
		require.NoError(t, err, "intent is durable once logged")
		assert.Equal(t, int64(2), pos)
		assert.Equal(t, float64(1), promtest.ToFloat64(metrics.ReplayFailures))

		status, err := e.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, ir.Status{Horizon: 2, Materialized: 1, Diverged: true}, status)

		// the log still serves the entry
		horizon, txs, err := e.FetchRange(ctx, 2, ir.Unbounded)
		require.NoError(t, err)
		assert.Equal(t, int64(2), horizon)
		assert.Len(t, txs, 1)

		f.failApply.Store(false)
		n, err := e.Recover(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		status, err = e.Status(ctx)
		require.NoError(t, err)
		assert.False(t, status.Diverged)

		rec, _, err := e.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, ir.IRString("t2"), rec.Data.(ir.IRObject)["title"])
		assert.Equal(t, int64(2), rec.UpdatedAt, "recovery replays with the logged instant")

		_, err = e.Verify(ctx)
		require.NoError(t, err)
	})
}

func TestIngest_CatchesUpBeforeApplying(t *testing.T) {
	ctx := context.Background()
	f := &flakyBackend{Backend: testutil.Memory(t)}
	e := newEngine(t, f)

	f.failApply.Store(true)
	_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
	require.NoError(t, err)

	f.failApply.Store(false)
	_, err = e.Ingest(ctx, ir.Batch{todo("b", ir.ActionCreate, "u")})
	require.NoError(t, err)

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Status{Horizon: 2, Materialized: 2}, status)

	_, models, err := e.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Len(t, models["Todo"], 2)
}

func TestBootstrap_LaggingStoreReportsMaterializedHorizon(t *testing.T) {
	ctx := context.Background()
	f := &flakyBackend{Backend: testutil.Memory(t)}
	e := newEngine(t, f)

	_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
	require.NoError(t, err)

	f.failApply.Store(true)
	_, err = e.Ingest(ctx, ir.Batch{todo("b", ir.ActionCreate, "u")})
	require.NoError(t, err)

	horizon, models, err := e.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), horizon, "client must still fetch position 2")
	assert.Len(t, models["Todo"], 1)

	// once storage heals, bootstrap catches up on its own
	f.failApply.Store(false)
	horizon, models, err = e.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), horizon)
	assert.Len(t, models["Todo"], 2)
}

func TestRecover_FailureReported(t *testing.T) {
	ctx := context.Background()
	f := &flakyBackend{Backend: testutil.Memory(t)}
	e := newEngine(t, f)

	f.failApply.Store(true)
	_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
	require.NoError(t, err)

	n, err := e.Recover(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, ir.IsPersistence(err))
}

func TestRecover_NothingToDo(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		e := newEngine(t, b)

		n, err := e.Recover(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestRecover_AfterRestart(t *testing.T) {
	ctx := context.Background()
	b := testutil.SQLite(t)

	// a previous process logged two batches and crashed before applying them
	_, err := b.Append(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")}, 1_000)
	require.NoError(t, err)
	_, err = b.Append(ctx, ir.Batch{todo("a", ir.ActionUpdate, "t2")}, 2_000)
	require.NoError(t, err)

	clock := engine.NewMonotonicClockAt(0)
	e := engine.New(b, b, engine.WithClock(clock))

	n, err := e.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, ok, err := e.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1_000), rec.CreatedAt)
	assert.Equal(t, int64(2_000), rec.UpdatedAt)
	assert.GreaterOrEqual(t, clock.Current(), int64(2_000), "clock advanced past the log")
}
