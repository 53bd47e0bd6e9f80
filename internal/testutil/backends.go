package testutil

import (
	"path/filepath"
	"testing"

	"github.com/roach88/syncd/internal/engine"
	"github.com/roach88/syncd/internal/kv"
	"github.com/roach88/syncd/internal/memstore"
	"github.com/roach88/syncd/internal/store"
)

// BackendOpener pairs a backend constructor with a subtest name.
type BackendOpener struct {
	Name string
	Open func(t *testing.T) engine.Backend
}

// Backends lists every storage medium, for tests that must hold on all of them.
func Backends() []BackendOpener {
	return []BackendOpener{
		{Name: "memstore", Open: func(t *testing.T) engine.Backend { return Memory(t) }},
		{Name: "sqlite", Open: func(t *testing.T) engine.Backend { return SQLite(t) }},
		{Name: "pebble", Open: func(t *testing.T) engine.Backend { return Pebble(t) }},
	}
}

// SQLite opens a fresh SQLite store in t.TempDir.
func SQLite(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "syncd.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Pebble opens a fresh Pebble store in t.TempDir.
func Pebble(t *testing.T) *kv.Store {
	t.Helper()
	s, err := kv.Open(filepath.Join(t.TempDir(), "kv"))
	if err != nil {
		t.Fatalf("kv.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Memory returns a fresh in-memory store.
func Memory(t *testing.T) *memstore.Store {
	t.Helper()
	return memstore.New()
}
