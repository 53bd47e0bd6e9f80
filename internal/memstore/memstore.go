// Package memstore is an in-memory transaction log and payload store.
//
// It backs replay verification (a scratch store rebuilt from the log) and
// tests. Values are kept in canonical encoded form, so callers never share
// mutable payloads with the store.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"github.com/roach88/syncd/internal/ir"
)

type logEntry struct {
	committedAt int64
	actions     []byte
}

type record struct {
	entityType string
	data       []byte
	createdAt  int64
	updatedAt  int64
}

// Store keeps the log and the records in ordered skip lists.
// Writers are serialized by mu; readers go straight to the maps.
type Store struct {
	mu           sync.Mutex
	log          *skipmap.FuncMap[int64, logEntry]
	records      *skipmap.FuncMap[string, record]
	maxPosition  int64
	materialized int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		log: skipmap.NewFunc[int64, logEntry](func(a, b int64) bool {
			return a < b
		}),
		records: skipmap.NewFunc[string, record](func(a, b string) bool {
			return strings.Compare(a, b) < 0
		}),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Append stores batch at the next position.
func (s *Store) Append(_ context.Context, batch ir.Batch, committedAt int64) (int64, error) {
	actions, err := ir.EncodeBatch(batch)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxPosition++
	s.log.Store(s.maxPosition, logEntry{committedAt: committedAt, actions: actions})
	return s.maxPosition, nil
}

// ReadRange returns entries with from <= position <= to in ascending order.
func (s *Store) ReadRange(_ context.Context, from, to int64) ([]ir.LogEntry, error) {
	from, to = ir.NormalizeRange(from, to)

	entries := []ir.LogEntry{}
	var rangeErr error
	s.log.Range(func(pos int64, e logEntry) bool {
		if pos < from {
			return true
		}
		if pos > to {
			return false
		}
		batch, err := ir.DecodeBatch(e.actions)
		if err != nil {
			rangeErr = fmt.Errorf("log entry %d: %w", pos, err)
			return false
		}
		entries = append(entries, ir.LogEntry{Position: pos, CommittedAt: e.committedAt, Batch: batch})
		return true
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	return entries, nil
}

func (s *Store) MaxPosition(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPosition, nil
}

// Upsert inserts or replaces a record, keeping created_at of an existing one.
func (s *Store) Upsert(_ context.Context, id, entityType string, data ir.IRValue, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.prepareStagedUpsert(nil, id, entityType, data, now)
	if err != nil {
		return err
	}
	s.records.Store(id, rec)
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Delete(id)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (ir.Record, bool, error) {
	rec, ok := s.records.Load(id)
	if !ok {
		return ir.Record{}, false, nil
	}

	data, err := ir.DecodeValue(rec.data)
	if err != nil {
		return ir.Record{}, false, fmt.Errorf("record %q: %w", id, err)
	}
	return ir.Record{
		ID:        id,
		Type:      rec.entityType,
		Data:      data,
		CreatedAt: rec.createdAt,
		UpdatedAt: rec.updatedAt,
	}, true, nil
}

// ListAll walks records in id order, so every group comes out sorted by id.
func (s *Store) ListAll(context.Context) (ir.Models, error) {
	models := ir.Models{}
	var rangeErr error
	s.records.Range(func(id string, rec record) bool {
		data, err := ir.DecodeValue(rec.data)
		if err != nil {
			rangeErr = fmt.Errorf("record %q: %w", id, err)
			return false
		}
		models[rec.entityType] = append(models[rec.entityType], ir.Model{ID: id, Data: data})
		return true
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	return models, nil
}

// ApplyBatch stages every change first; nothing becomes visible if any
// payload fails to encode.
func (s *Store) ApplyBatch(_ context.Context, position int64, batch ir.Batch, now int64) error {
	type change struct {
		id  string
		rec *record // nil means delete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if position <= s.materialized {
		return nil
	}

	staged := make(map[string]*record, len(batch))
	changes := make([]change, 0, len(batch))
	for i, t := range batch {
		switch {
		case t.Action.IsUpsert():
			rec, err := s.prepareStagedUpsert(staged, t.ID, t.Type, t.Data, now)
			if err != nil {
				return fmt.Errorf("apply batch %d: %w", position, err)
			}
			staged[t.ID] = &rec
			changes = append(changes, change{id: t.ID, rec: &rec})
		case t.Action == ir.ActionDelete:
			staged[t.ID] = nil
			changes = append(changes, change{id: t.ID})
		default:
			return fmt.Errorf("apply batch %d: %w", position, &ir.InvalidActionError{Action: string(t.Action), Index: i})
		}
	}

	for _, c := range changes {
		if c.rec == nil {
			s.records.Delete(c.id)
			continue
		}
		s.records.Store(c.id, *c.rec)
	}
	s.materialized = position
	return nil
}

func (s *Store) MaterializedPosition(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.materialized, nil
}

// prepareStagedUpsert builds the new record for id, looking at staged changes
// of the current batch before the committed map.
func (s *Store) prepareStagedUpsert(staged map[string]*record, id, entityType string, data ir.IRValue, now int64) (record, error) {
	payload, err := ir.EncodeValue(data)
	if err != nil {
		return record{}, fmt.Errorf("upsert %q: %w", id, err)
	}

	rec := record{entityType: entityType, data: payload, createdAt: now, updatedAt: now}

	prev, inBatch := staged[id]
	switch {
	case inBatch && prev != nil:
		rec.createdAt = prev.createdAt
	case inBatch:
		// deleted earlier in this batch
	default:
		if old, ok := s.records.Load(id); ok {
			rec.createdAt = old.createdAt
		}
	}
	return rec, nil
}
