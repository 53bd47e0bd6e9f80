// Package kv stores the transaction log and the records in a Pebble LSM.
//
// Key layout:
//
//	log/<position %020d>   -> logValue (committed_at + canonical batch)
//	rec/<record id>        -> recordValue
//	meta/materialized      -> decimal position
//
// Zero-padded positions keep the log in numeric order under Pebble's
// bytewise comparer.
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/syncd/internal/ir"
)

const (
	logPrefix       = "log/"
	recPrefix       = "rec/"
	materializedKey = "meta/materialized"
)

type logValue struct {
	CommittedAt int64           `json:"committed_at"`
	Actions     json.RawMessage `json:"actions"`
}

type recordValue struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// Store is a Pebble-backed transaction log and payload store.
type Store struct {
	db *pebble.DB
	// Writers and Close hold mu exclusively; reads share it so the
	// database cannot close under an open iterator.
	mu sync.RWMutex
}

// Open opens or creates a Pebble database in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database. Safe to call on a closed store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func logKey(position int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", logPrefix, position))
}

func recKey(id string) []byte {
	return []byte(recPrefix + id)
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}

// opened reports whether the store is usable. Caller must hold s.mu.
func (s *Store) opened() error {
	if s.db == nil {
		return ir.Persistence("kv", errors.New("pebble store is closed"))
	}
	return nil
}

// Append writes batch under the next log key and syncs it to disk.
func (s *Store) Append(_ context.Context, batch ir.Batch, committedAt int64) (int64, error) {
	actions, err := ir.EncodeBatch(batch)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opened(); err != nil {
		return 0, err
	}

	max, err := s.maxPosition()
	if err != nil {
		return 0, err
	}
	position := max + 1

	value, err := encodeJSON(logValue{CommittedAt: committedAt, Actions: actions})
	if err != nil {
		return 0, &ir.SerializationError{What: "log entry", Err: err}
	}

	if err := s.db.Set(logKey(position), value, pebble.Sync); err != nil {
		return 0, ir.Persistence("append", err)
	}
	return position, nil
}

// ReadRange returns entries with from <= position <= to in ascending order.
func (s *Store) ReadRange(_ context.Context, from, to int64) ([]ir.LogEntry, error) {
	from, to = ir.NormalizeRange(from, to)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.opened(); err != nil {
		return nil, err
	}

	entries := []ir.LogEntry{}
	if from > to {
		return entries, nil
	}

	upper := prefixUpperBound(logPrefix)
	if to < ir.Unbounded {
		upper = logKey(to + 1)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: logKey(from),
		UpperBound: upper,
	})
	if err != nil {
		return nil, ir.Persistence("read range", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		entry, err := decodeLogEntry(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, ir.Persistence("read range: iterate", err)
	}

	return entries, nil
}

// MaxPosition returns the last log position, or 0 for an empty log.
func (s *Store) MaxPosition(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.opened(); err != nil {
		return 0, err
	}
	return s.maxPosition()
}

func (s *Store) maxPosition() (int64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(logPrefix),
		UpperBound: prefixUpperBound(logPrefix),
	})
	if err != nil {
		return 0, ir.Persistence("max position", err)
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return 0, ir.Persistence("max position", err)
		}
		return 0, nil
	}
	return parseLogKey(iter.Key())
}

func parseLogKey(key []byte) (int64, error) {
	position, err := strconv.ParseInt(string(bytes.TrimPrefix(key, []byte(logPrefix))), 10, 64)
	if err != nil {
		return 0, &ir.SerializationError{What: "log key", Err: err}
	}
	return position, nil
}

func decodeLogEntry(key, value []byte) (ir.LogEntry, error) {
	position, err := parseLogKey(key)
	if err != nil {
		return ir.LogEntry{}, err
	}

	var v logValue
	if err := json.Unmarshal(value, &v); err != nil {
		return ir.LogEntry{}, fmt.Errorf("log entry %d: %w", position, &ir.SerializationError{What: "log entry", Err: err})
	}

	batch, err := ir.DecodeBatch(v.Actions)
	if err != nil {
		return ir.LogEntry{}, fmt.Errorf("log entry %d: %w", position, err)
	}
	return ir.LogEntry{Position: position, CommittedAt: v.CommittedAt, Batch: batch}, nil
}

// encodeJSON marshals v without HTML escaping so embedded canonical
// payloads stay byte-identical.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
