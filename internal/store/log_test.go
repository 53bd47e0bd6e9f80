package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncd/internal/backendtest"
	"github.com/roach88/syncd/internal/ir"
)

func TestStore_Conformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backendtest.Backend {
		return createTestStore(t)
	})
}

func TestAppend_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	batch := ir.Batch{backendtest.Todo("a", ir.ActionCreate, "t", false)}
	_, err = s1.Append(ctx, batch, 1)
	require.NoError(t, err)
	require.NoError(t, s1.ApplyBatch(ctx, 1, batch, 1))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	pos, err := s2.Append(ctx, batch, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos, "positions continue after reopen")

	materialized, err := s2.MaterializedPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), materialized)
}

func TestAppend_StoresCanonicalJSON(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.Append(ctx, ir.Batch{{
		Type:   "Todo",
		ID:     "a",
		Action: ir.ActionCreate,
		Data:   ir.IRObject{"title": ir.IRString("t"), "completed": ir.IRBool(false)},
	}}, 9)
	require.NoError(t, err)

	var actions string
	require.NoError(t, s.db.QueryRow("SELECT actions FROM sync_history WHERE position = 1").Scan(&actions))
	assert.Equal(t,
		`[{"action":"create","data":{"completed":false,"title":"t"},"id":"a","type":"Todo"}]`,
		actions)
}

func TestReadRange_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.db.Exec("INSERT INTO sync_history (position, committed_at, actions) VALUES (1, 1, '[{')")
	require.NoError(t, err)

	_, err = s.ReadRange(ctx, 0, ir.Unbounded)
	require.Error(t, err)
	assert.True(t, ir.IsSerialization(err))
}

func TestAppend_ClosedDatabase(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Append(ctx, ir.Batch{backendtest.Todo("a", ir.ActionCreate, "t", false)}, 1)
	require.Error(t, err)
	assert.True(t, ir.IsPersistence(err))
}
