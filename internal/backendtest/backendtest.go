// Package backendtest holds the conformance suite every storage backend runs.
package backendtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncd/internal/ir"
)

// Backend is the combined log and payload store surface under test.
type Backend interface {
	Append(ctx context.Context, batch ir.Batch, committedAt int64) (int64, error)
	ReadRange(ctx context.Context, from, to int64) ([]ir.LogEntry, error)
	MaxPosition(ctx context.Context) (int64, error)

	Upsert(ctx context.Context, id, entityType string, data ir.IRValue, now int64) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (ir.Record, bool, error)
	ListAll(ctx context.Context) (ir.Models, error)
	ApplyBatch(ctx context.Context, position int64, batch ir.Batch, now int64) error
	MaterializedPosition(ctx context.Context) (int64, error)

	Close() error
}

// Opener returns a fresh, empty backend. Cleanup is the opener's job.
type Opener func(t *testing.T) Backend

// Run executes the conformance suite against backends produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b Backend)
	}{
		{"EmptyLog", testEmptyLog},
		{"AppendAssignsGaplessPositions", testAppendPositions},
		{"ReadRangeBounds", testReadRangeBounds},
		{"ReadRangePreservesBatch", testReadRangePreservesBatch},
		{"UpsertKeepsCreatedAt", testUpsertKeepsCreatedAt},
		{"DeleteAbsentIsNoop", testDeleteAbsent},
		{"DeleteThenResurrect", testDeleteThenResurrect},
		{"ListAllGroupsByType", testListAllGroups},
		{"ApplyBatchLastWriteWins", testApplyBatchLastWriteWins},
		{"ApplyBatchSkipsApplied", testApplyBatchSkipsApplied},
		{"NestedPayloadRoundTrip", testNestedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

// Todo builds a transaction for the "Todo" entity type.
func Todo(id string, action ir.Action, title string, completed bool) ir.Transaction {
	tx := ir.Transaction{Type: "Todo", ID: id, Action: action, Data: ir.IRNull{}}
	if action != ir.ActionDelete {
		tx.Data = ir.IRObject{"title": ir.IRString(title), "completed": ir.IRBool(completed)}
	}
	return tx
}

func testEmptyLog(t *testing.T, b Backend) {
	ctx := context.Background()

	max, err := b.MaxPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)

	entries, err := b.ReadRange(ctx, 0, ir.Unbounded)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	materialized, err := b.MaterializedPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), materialized)

	models, err := b.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, models)
}

func testAppendPositions(t *testing.T, b Backend) {
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		pos, err := b.Append(ctx, ir.Batch{Todo("a", ir.ActionCreate, "t", false)}, want*10)
		require.NoError(t, err)
		assert.Equal(t, want, pos)
	}

	max, err := b.MaxPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), max)
}

func testReadRangeBounds(t *testing.T, b Backend) {
	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		_, err := b.Append(ctx, ir.Batch{Todo("a", ir.ActionUpdate, "t", false)}, i)
		require.NoError(t, err)
	}

	tests := []struct {
		name     string
		from, to int64
		want     []int64
	}{
		{"all", 0, ir.Unbounded, []int64{1, 2, 3, 4}},
		{"inclusive", 2, 3, []int64{2, 3}},
		{"single", 3, 3, []int64{3}},
		{"open upper", 3, ir.Unbounded, []int64{3, 4}},
		{"beyond horizon", 5, ir.Unbounded, nil},
		{"explicit zero upper", 0, 0, nil},
		{"negative upper", 1, -3, nil},
		{"inverted", 3, 2, nil},
		{"negative from", -7, 1, []int64{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := b.ReadRange(ctx, tt.from, tt.to)
			require.NoError(t, err)
			require.NotNil(t, entries)

			var got []int64
			for _, e := range entries {
				got = append(got, e.Position)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func testReadRangePreservesBatch(t *testing.T, b Backend) {
	ctx := context.Background()
	batch := ir.Batch{
		Todo("a", ir.ActionCreate, "t", false),
		Todo("b", ir.ActionCreate, "u", true),
		Todo("a", ir.ActionDelete, "", false),
	}

	pos, err := b.Append(ctx, batch, 42)
	require.NoError(t, err)

	entries, err := b.ReadRange(ctx, pos, pos)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ir.LogEntry{Position: pos, CommittedAt: 42, Batch: batch}, entries[0])
}

func testUpsertKeepsCreatedAt(t *testing.T, b Backend) {
	ctx := context.Background()

	require.NoError(t, b.Upsert(ctx, "a", "Todo", ir.IRObject{"title": ir.IRString("t")}, 100))
	require.NoError(t, b.Upsert(ctx, "a", "Note", ir.IRObject{"title": ir.IRString("t2")}, 200))

	rec, ok, err := b.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Record{
		ID:        "a",
		Type:      "Note",
		Data:      ir.IRObject{"title": ir.IRString("t2")},
		CreatedAt: 100,
		UpdatedAt: 200,
	}, rec)

	// same data again changes nothing but updated_at
	require.NoError(t, b.Upsert(ctx, "a", "Note", ir.IRObject{"title": ir.IRString("t2")}, 300))
	rec, _, err = b.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.CreatedAt)
	assert.Equal(t, int64(300), rec.UpdatedAt)
}

func testDeleteAbsent(t *testing.T, b Backend) {
	ctx := context.Background()

	require.NoError(t, b.Delete(ctx, "missing"))

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDeleteThenResurrect(t *testing.T, b Backend) {
	ctx := context.Background()

	require.NoError(t, b.Upsert(ctx, "a", "Todo", ir.IRString("v1"), 1))
	require.NoError(t, b.Delete(ctx, "a"))

	_, ok, err := b.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Upsert(ctx, "a", "Todo", ir.IRString("v2"), 5))
	rec, ok, err := b.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), rec.CreatedAt)
	assert.Equal(t, ir.IRString("v2"), rec.Data)
}

func testListAllGroups(t *testing.T, b Backend) {
	ctx := context.Background()

	require.NoError(t, b.Upsert(ctx, "c", "Todo", ir.IRInt(3), 1))
	require.NoError(t, b.Upsert(ctx, "a", "Todo", ir.IRInt(1), 1))
	require.NoError(t, b.Upsert(ctx, "b", "Tag", ir.IRInt(2), 1))
	require.NoError(t, b.Upsert(ctx, "d", "Todo", ir.IRNull{}, 1))
	require.NoError(t, b.Delete(ctx, "d"))

	models, err := b.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Models{
		"Todo": {{ID: "a", Data: ir.IRInt(1)}, {ID: "c", Data: ir.IRInt(3)}},
		"Tag":  {{ID: "b", Data: ir.IRInt(2)}},
	}, models)
}

func testApplyBatchLastWriteWins(t *testing.T, b Backend) {
	ctx := context.Background()

	batch := ir.Batch{
		Todo("a", ir.ActionCreate, "t", false),
		Todo("a", ir.ActionUpdate, "t2", true),
		Todo("b", ir.ActionCreate, "x", false),
		Todo("b", ir.ActionDelete, "", false),
	}
	require.NoError(t, b.ApplyBatch(ctx, 1, batch, 7))

	materialized, err := b.MaterializedPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), materialized)

	rec, ok, err := b.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.IRObject{"title": ir.IRString("t2"), "completed": ir.IRBool(true)}, rec.Data)
	assert.Equal(t, int64(7), rec.CreatedAt)
	assert.Equal(t, int64(7), rec.UpdatedAt)

	_, ok, err = b.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testApplyBatchSkipsApplied(t *testing.T, b Backend) {
	ctx := context.Background()

	require.NoError(t, b.ApplyBatch(ctx, 1, ir.Batch{Todo("a", ir.ActionCreate, "first", false)}, 1))
	require.NoError(t, b.ApplyBatch(ctx, 2, ir.Batch{Todo("a", ir.ActionUpdate, "second", false)}, 2))

	// re-applying position 1 must not roll the record back
	require.NoError(t, b.ApplyBatch(ctx, 1, ir.Batch{Todo("a", ir.ActionCreate, "first", false)}, 1))

	rec, _, err := b.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("second"), rec.Data.(ir.IRObject)["title"])

	materialized, err := b.MaterializedPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), materialized)
}

func testNestedPayload(t *testing.T, b Backend) {
	ctx := context.Background()

	data := ir.IRObject{
		"title": ir.IRString("<b>milk & eggs</b>"),
		"meta": ir.IRObject{
			"tags":  ir.IRArray{ir.IRString("x"), ir.IRInt(2), ir.IRFloat(2.5), ir.IRNull{}},
			"depth": ir.IRObject{"n": ir.IRObject{"m": ir.IRBool(true)}},
		},
	}
	require.NoError(t, b.Upsert(ctx, "n", "Note", data, 1))

	rec, ok, err := b.Get(ctx, "n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.IRValue(data), rec.Data)
}
