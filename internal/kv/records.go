package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/syncd/internal/ir"
)

// reader is satisfied by *pebble.DB and an indexed *pebble.Batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// writer is satisfied by *pebble.Batch.
type writer interface {
	Set(key, value []byte, opts *pebble.WriteOptions) error
	Delete(key []byte, opts *pebble.WriteOptions) error
}

// Upsert inserts or replaces a record, keeping created_at of an existing one.
func (s *Store) Upsert(_ context.Context, id, entityType string, data ir.IRValue, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opened(); err != nil {
		return err
	}

	b := s.db.NewIndexedBatch()
	defer b.Close()

	if err := upsert(b, b, id, entityType, data, now); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return ir.Persistence("upsert", err)
	}
	return nil
}

// Delete removes a record. Deleting an absent id is a no-op.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opened(); err != nil {
		return err
	}
	if err := s.db.Delete(recKey(id), pebble.Sync); err != nil {
		return ir.Persistence("delete", err)
	}
	return nil
}

// Get returns the current record for id.
func (s *Store) Get(_ context.Context, id string) (ir.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.opened(); err != nil {
		return ir.Record{}, false, err
	}

	v, ok, err := getRecord(s.db, id)
	if err != nil || !ok {
		return ir.Record{}, ok, err
	}

	data, err := ir.DecodeValue(v.Data)
	if err != nil {
		return ir.Record{}, false, fmt.Errorf("record %q: %w", id, err)
	}
	return ir.Record{
		ID:        id,
		Type:      v.Type,
		Data:      data,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}, true, nil
}

// ListAll scans rec/ in key order, which is id order within every group.
func (s *Store) ListAll(context.Context) (ir.Models, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.opened(); err != nil {
		return nil, err
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(recPrefix),
		UpperBound: prefixUpperBound(recPrefix),
	})
	if err != nil {
		return nil, ir.Persistence("list records", err)
	}
	defer iter.Close()

	models := ir.Models{}
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Key()[len(recPrefix):])

		var v recordValue
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("record %q: %w", id, &ir.SerializationError{What: "record", Err: err})
		}
		data, err := ir.DecodeValue(v.Data)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", id, err)
		}
		models[v.Type] = append(models[v.Type], ir.Model{ID: id, Data: data})
	}
	if err := iter.Error(); err != nil {
		return nil, ir.Persistence("list records: iterate", err)
	}

	return models, nil
}

// ApplyBatch replays one log entry. Record changes and the materialized
// position are written through one indexed batch, so later transactions in
// the batch see earlier ones and the whole entry commits atomically.
func (s *Store) ApplyBatch(_ context.Context, position int64, batch ir.Batch, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opened(); err != nil {
		return err
	}

	materialized, err := materializedPosition(s.db)
	if err != nil {
		return err
	}
	if position <= materialized {
		return nil
	}

	b := s.db.NewIndexedBatch()
	defer b.Close()

	for i, t := range batch {
		switch {
		case t.Action.IsUpsert():
			err = upsert(b, b, t.ID, t.Type, t.Data, now)
		case t.Action == ir.ActionDelete:
			if derr := b.Delete(recKey(t.ID), nil); derr != nil {
				err = ir.Persistence("delete", derr)
			}
		default:
			err = &ir.InvalidActionError{Action: string(t.Action), Index: i}
		}
		if err != nil {
			return fmt.Errorf("apply batch %d: %w", position, err)
		}
	}

	if err := b.Set([]byte(materializedKey), []byte(strconv.FormatInt(position, 10)), nil); err != nil {
		return ir.Persistence("apply batch: set materialized", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return ir.Persistence("apply batch: commit", err)
	}
	return nil
}

// MaterializedPosition returns the highest applied log position.
func (s *Store) MaterializedPosition(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.opened(); err != nil {
		return 0, err
	}
	return materializedPosition(s.db)
}

func materializedPosition(r reader) (int64, error) {
	value, closer, err := r.Get([]byte(materializedKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, ir.Persistence("materialized position", err)
	}
	defer closer.Close()

	position, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, &ir.SerializationError{What: "materialized position", Err: err}
	}
	return position, nil
}

func getRecord(r reader, id string) (recordValue, bool, error) {
	value, closer, err := r.Get(recKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return recordValue{}, false, nil
	}
	if err != nil {
		return recordValue{}, false, ir.Persistence("get record", err)
	}
	defer closer.Close()

	var v recordValue
	if err := json.Unmarshal(value, &v); err != nil {
		return recordValue{}, false, fmt.Errorf("record %q: %w", id, &ir.SerializationError{What: "record", Err: err})
	}
	return v, true, nil
}

func upsert(r reader, w writer, id, entityType string, data ir.IRValue, now int64) error {
	payload, err := ir.EncodeValue(data)
	if err != nil {
		return fmt.Errorf("upsert %q: %w", id, err)
	}

	createdAt := now
	prev, ok, err := getRecord(r, id)
	if err != nil {
		return err
	}
	if ok {
		createdAt = prev.CreatedAt
	}

	value, err := encodeJSON(recordValue{
		Type:      entityType,
		Data:      payload,
		CreatedAt: createdAt,
		UpdatedAt: now,
	})
	if err != nil {
		return &ir.SerializationError{What: "record", Err: err}
	}

	if err := w.Set(recKey(id), value, nil); err != nil {
		return ir.Persistence("upsert", err)
	}
	return nil
}
