package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncd/internal/engine"
	"github.com/roach88/syncd/internal/ir"
	"github.com/roach88/syncd/internal/memstore"
	"github.com/roach88/syncd/internal/testutil"
)

func todo(id string, action ir.Action, title string) ir.Transaction {
	tx := ir.Transaction{Type: "Todo", ID: id, Action: action, Data: ir.IRNull{}}
	if action != ir.ActionDelete {
		tx.Data = ir.IRObject{"title": ir.IRString(title), "completed": ir.IRBool(false)}
	}
	return tx
}

func newEngine(t *testing.T, b engine.Backend, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{engine.WithClock(testutil.NewDeterministicClock())}, opts...)
	return engine.New(b, b, opts...)
}

// eachBackend runs fn once per storage medium.
func eachBackend(t *testing.T, fn func(t *testing.T, b engine.Backend)) {
	for _, backend := range testutil.Backends() {
		t.Run(backend.Name, func(t *testing.T) {
			fn(t, backend.Open(t))
		})
	}
}

func TestScenario_EmptyBootstrap(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		e := newEngine(t, b)

		horizon, models, err := e.Bootstrap(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(0), horizon)
		assert.Empty(t, models)
	})
}

func TestScenario_IngestThenFetch(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		tx := todo("a", ir.ActionCreate, "t")
		pos, err := e.Ingest(ctx, ir.Batch{tx})
		require.NoError(t, err)
		assert.Equal(t, int64(1), pos)

		horizon, txs, err := e.FetchRange(ctx, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), horizon)
		assert.Equal(t, []ir.Transaction{tx}, txs)
	})
}

func TestScenario_UpdateReplacesPayload(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
		require.NoError(t, err)
		_, err = e.Ingest(ctx, ir.Batch{{
			Type: "Todo", ID: "a", Action: ir.ActionUpdate,
			Data: ir.IRObject{"title": ir.IRString("t2")},
		}})
		require.NoError(t, err)

		horizon, models, err := e.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), horizon)
		require.Len(t, models["Todo"], 1)
		assert.Equal(t, "a", models["Todo"][0].ID)
		assert.Equal(t, ir.IRObject{"title": ir.IRString("t2")}, models["Todo"][0].Data)
	})
}

func TestScenario_DeleteIsTombstone(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
		require.NoError(t, err)
		_, err = e.Ingest(ctx, ir.Batch{todo("a", ir.ActionDelete, "")})
		require.NoError(t, err)

		_, models, err := e.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Empty(t, models["Todo"])
	})
}

func TestScenario_InvalidActionRejected(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		_, err := e.Ingest(ctx, ir.Batch{{Type: "Todo", ID: "a", Action: "bogus", Data: ir.IRNull{}}})
		require.Error(t, err)

		var iae *ir.InvalidActionError
		require.True(t, errors.As(err, &iae))
		assert.Equal(t, "bogus", iae.Action)

		horizon, models, err := e.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), horizon)
		assert.Empty(t, models)
	})
}

func TestIngest_AtomicRejection(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
		require.NoError(t, err)
		_, before, err := e.Bootstrap(ctx)
		require.NoError(t, err)

		_, err = e.Ingest(ctx, ir.Batch{
			todo("b", ir.ActionCreate, "x"),
			todo("a", ir.ActionDelete, ""),
			{Type: "Todo", ID: "c", Action: "upsert"},
		})
		require.Error(t, err)
		assert.True(t, ir.IsInvalidAction(err))
		assert.Contains(t, err.Error(), `"upsert" at index 2`)

		horizon, after, err := e.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), horizon)
		assert.Equal(t, before, after)
	})
}

func TestIngest_EmptyBatch(t *testing.T) {
	ctx := context.Background()
	metrics := engine.NewMetrics(nil)
	e := newEngine(t, testutil.Memory(t), engine.WithMetrics(metrics))

	_, err := e.Ingest(ctx, ir.Batch{})
	require.ErrorIs(t, err, ir.ErrEmptyBatch)

	_, err = e.Ingest(ctx, nil)
	require.ErrorIs(t, err, ir.ErrEmptyBatch)

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Horizon)
	assert.Equal(t, float64(2), promtest.ToFloat64(metrics.Rejected.WithLabelValues("empty_batch")))
}

func TestIngest_UpsertIdempotence(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "first")})
		require.NoError(t, err)
		_, err = e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "second")})
		require.NoError(t, err)

		rec, ok, err := e.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ir.IRString("second"), rec.Data.(ir.IRObject)["title"])
		assert.Equal(t, int64(1), rec.CreatedAt, "created_at is the first ingestion's stamp")
		assert.Equal(t, int64(2), rec.UpdatedAt)

		_, models, err := e.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Len(t, models["Todo"], 1)
	})
}

func TestIngest_BatchSharesOneInstant(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testutil.Memory(t))

	_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "x")})
	require.NoError(t, err)
	_, err = e.Ingest(ctx, ir.Batch{
		todo("a", ir.ActionUpdate, "y"),
		todo("b", ir.ActionCreate, "z"),
	})
	require.NoError(t, err)

	a, _, err := e.Get(ctx, "a")
	require.NoError(t, err)
	b, _, err := e.Get(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, int64(2), a.UpdatedAt)
	assert.Equal(t, int64(2), b.CreatedAt)
	assert.Equal(t, a.UpdatedAt, b.UpdatedAt)
}

func TestFetchRange_Horizon(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		for i := 1; i <= 4; i++ {
			_, err := e.Ingest(ctx, ir.Batch{
				todo(fmt.Sprintf("r%d", i), ir.ActionCreate, "x"),
				todo(fmt.Sprintf("s%d", i), ir.ActionCreate, "y"),
			})
			require.NoError(t, err)
		}

		tests := []struct {
			name        string
			from, to    int64
			wantHorizon int64
			wantIDs     []string
		}{
			{"everything", 0, ir.Unbounded, 4, []string{"r1", "s1", "r2", "s2", "r3", "s3", "r4", "s4"}},
			{"middle", 2, 3, 3, []string{"r2", "s2", "r3", "s3"}},
			{"incremental", 4, ir.Unbounded, 4, []string{"r4", "s4"}},
			{"past horizon", 5, ir.Unbounded, 0, nil},
			{"inverted", 3, 1, 0, nil},
			{"explicit zero upper", 0, 0, 0, nil},
			{"negative upper", 1, -1, 0, nil},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				horizon, txs, err := e.FetchRange(ctx, tt.from, tt.to)
				require.NoError(t, err)
				assert.Equal(t, tt.wantHorizon, horizon)
				require.NotNil(t, txs)

				var ids []string
				for _, tx := range txs {
					ids = append(ids, tx.ID)
				}
				assert.Equal(t, tt.wantIDs, ids)
			})
		}
	})
}

func TestIngest_IDsAndPayloadsKeptVerbatim(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		// decomposed and precomposed spellings of the same word
		nfd, nfc := "cafe\u0301", "caf\u00e9"
		data := ir.IRObject{nfd: ir.IRString(nfd), nfc: ir.IRString(nfc)}

		_, err := e.Ingest(ctx, ir.Batch{
			{Type: "Note", ID: nfd, Action: ir.ActionCreate, Data: data},
			{Type: "Note", ID: nfc, Action: ir.ActionCreate, Data: ir.IRInt(1)},
		})
		require.NoError(t, err)

		_, txs, err := e.FetchRange(ctx, 0, ir.Unbounded)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, nfd, txs[0].ID)
		assert.Equal(t, data, txs[0].Data)

		_, models, err := e.Bootstrap(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []ir.Model{{ID: nfd, Data: data}, {ID: nfc, Data: ir.IRInt(1)}}, models["Note"])

		// deleting by the fetched id removes that record and only that record
		_, err = e.Ingest(ctx, ir.Batch{{Type: "Note", ID: txs[0].ID, Action: ir.ActionDelete, Data: ir.IRNull{}}})
		require.NoError(t, err)

		_, found, err := b.Get(ctx, nfd)
		require.NoError(t, err)
		assert.False(t, found)
		_, found, err = b.Get(ctx, nfc)
		require.NoError(t, err)
		assert.True(t, found)

		_, err = e.Verify(ctx)
		assert.NoError(t, err)
	})
}

func TestIngest_ConcurrentPositionsAndRangeCompleteness(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)
		ids := testutil.NewIDGenerator(t.Name())

		const writers = 8
		const perWriter = 10

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			submitted = make(map[int64]ir.Batch)
		)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				last := int64(0)
				for i := 0; i < perWriter; i++ {
					batch := ir.Batch{todo(ids.Next(), ir.ActionCreate, "c")}
					pos, err := e.Ingest(ctx, batch)
					if !assert.NoError(t, err) {
						return
					}
					assert.Greater(t, pos, last, "positions increase in real-time order")
					last = pos

					mu.Lock()
					submitted[pos] = batch
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, submitted, writers*perWriter, "every position unique")

		var want []ir.Transaction
		for pos := int64(1); pos <= writers*perWriter; pos++ {
			batch, ok := submitted[pos]
			require.True(t, ok, "position %d missing", pos)
			want = append(want, batch...)
		}

		horizon, txs, err := e.FetchRange(ctx, 1, writers*perWriter)
		require.NoError(t, err)
		assert.Equal(t, int64(writers*perWriter), horizon)
		assert.Equal(t, want, txs)
	})
}

func TestDeterminism_ReplayMatchesBootstrap(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		batches := []ir.Batch{
			{todo("a", ir.ActionCreate, "one"), todo("b", ir.ActionCreate, "two")},
			{todo("a", ir.ActionUpdate, "one'"), {Type: "Tag", ID: "t", Action: ir.ActionCreate, Data: ir.IRArray{ir.IRString("x"), ir.IRFloat(1.5)}}},
			{todo("b", ir.ActionDelete, "")},
			{todo("b", ir.ActionCreate, "two again"), todo("c", ir.ActionUpdate, "never created")},
		}
		for _, batch := range batches {
			_, err := e.Ingest(ctx, batch)
			require.NoError(t, err)
		}

		result, err := e.Verify(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), result.Position)
		assert.Equal(t, 4, result.Entries)
		assert.Equal(t, 4, result.Records)

		// replaying through a second engine gives identical timestamps
		replica := memstore.New()
		entries, err := b.ReadRange(ctx, 0, ir.Unbounded)
		require.NoError(t, err)
		for _, entry := range entries {
			require.NoError(t, replica.ApplyBatch(ctx, entry.Position, entry.Batch, entry.CommittedAt))
		}
		for _, id := range []string{"a", "b", "c", "t"} {
			want, ok, err := b.Get(ctx, id)
			require.NoError(t, err)
			require.True(t, ok)
			got, ok, err := replica.Get(ctx, id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, got)
		}
	})
}

func TestVerifyReplay_DetectsTampering(t *testing.T) {
	eachBackend(t, func(t *testing.T, b engine.Backend) {
		ctx := context.Background()
		e := newEngine(t, b)

		_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
		require.NoError(t, err)

		// write behind the engine's back
		require.NoError(t, b.Upsert(ctx, "a", "Todo", ir.IRString("tampered"), 99))
		require.NoError(t, b.Upsert(ctx, "z", "Todo", ir.IRString("extra"), 99))

		_, err = engine.VerifyReplay(ctx, b, b)
		require.Error(t, err)

		var mismatch *engine.ReplayMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, int64(1), mismatch.Position)
		assert.Equal(t, []string{"Todo/a", "Todo/z"}, mismatch.Details)
		assert.NotEqual(t, mismatch.Expected, mismatch.Actual)
	})
}

func TestVerifyReplay_Empty(t *testing.T) {
	result, err := engine.VerifyReplay(context.Background(), memstore.New(), memstore.New())
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Position)
	assert.Equal(t, 0, result.Records)
	assert.Len(t, result.Digest, 64)
}

func TestIngest_CancelledBeforeStart(t *testing.T) {
	b := testutil.Memory(t)
	e := newEngine(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
	require.ErrorIs(t, err, context.Canceled)

	max, err := b.MaxPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testutil.SQLite(t))

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Status{}, status)

	_, err = e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t")})
	require.NoError(t, err)

	status, err = e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Status{Horizon: 1, Materialized: 1}, status)
}

func TestMetrics_Ingest(t *testing.T) {
	ctx := context.Background()
	metrics := engine.NewMetrics(nil)
	e := newEngine(t, testutil.Memory(t), engine.WithMetrics(metrics))

	_, err := e.Ingest(ctx, ir.Batch{todo("a", ir.ActionCreate, "t"), todo("b", ir.ActionCreate, "u")})
	require.NoError(t, err)
	_, err = e.Ingest(ctx, ir.Batch{{Type: "Todo", ID: "x", Action: "nope"}})
	require.Error(t, err)

	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.BatchesIngested))
	assert.Equal(t, float64(2), promtest.ToFloat64(metrics.TransactionsIngested))
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.Horizon))
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.Materialized))
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.Rejected.WithLabelValues("invalid_action")))
}
