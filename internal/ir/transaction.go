package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Action is the mutation kind carried by a Transaction.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is one of create, update or delete.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// IsUpsert reports whether a replaces the record payload.
// create and update are both unconditional upserts.
func (a Action) IsUpsert() bool {
	return a == ActionCreate || a == ActionUpdate
}

// Unbounded is the open upper bound for range reads.
const Unbounded int64 = math.MaxInt64

// Transaction is a single client mutation.
type Transaction struct {
	Type   string  `json:"type"` // entity type (logical collection)
	ID     string  `json:"id"`   // client-assigned record id
	Action Action  `json:"action"`
	Data   IRValue `json:"data"` // ignored for delete, still transmitted
}

// UnmarshalJSON decodes a transaction, turning `data` into an IRValue.
// A missing `data` field becomes IRNull.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Action Action          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.Type = raw.Type
	t.ID = raw.ID
	t.Action = raw.Action
	t.Data = IRNull{}
	if len(bytes.TrimSpace(raw.Data)) > 0 {
		v, err := UnmarshalIRValue(raw.Data)
		if err != nil {
			return fmt.Errorf("transaction %q data: %w", raw.ID, err)
		}
		t.Data = v
	}
	return nil
}

// Value returns the transaction as an IRObject, the shape used for
// canonical encoding.
func (t Transaction) Value() IRObject {
	data := t.Data
	if data == nil {
		data = IRNull{}
	}
	return IRObject{
		"type":   IRString(t.Type),
		"id":     IRString(t.ID),
		"action": IRString(t.Action),
		"data":   data,
	}
}

// Batch is an ordered, non-empty group of transactions committed atomically.
type Batch []Transaction

// LogEntry is one committed batch in the transaction log.
type LogEntry struct {
	Position    int64 `json:"position"`
	CommittedAt int64 `json:"committed_at"` // logical instant shared by the whole batch
	Batch       Batch `json:"batch"`
}

// Record is the materialized current value of one record id.
type Record struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Data      IRValue `json:"data"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// Model is the bootstrap view of a record.
type Model struct {
	ID   string  `json:"id"`
	Data IRValue `json:"data"`
}

// UnmarshalJSON decodes a model, turning `data` into an IRValue.
func (m *Model) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.ID = raw.ID
	m.Data = IRNull{}
	if len(bytes.TrimSpace(raw.Data)) > 0 {
		v, err := UnmarshalIRValue(raw.Data)
		if err != nil {
			return fmt.Errorf("model %q data: %w", raw.ID, err)
		}
		m.Data = v
	}
	return nil
}

// Models groups bootstrap models by entity type.
type Models map[string][]Model

// Status describes how far the payload store lags behind the log.
type Status struct {
	Horizon      int64 `json:"horizon"`
	Materialized int64 `json:"materialized"`
	Diverged     bool  `json:"diverged"`
}

// EncodeBatch serializes a batch for the log using canonical JSON.
func EncodeBatch(b Batch) ([]byte, error) {
	arr := make(IRArray, len(b))
	for i, tx := range b {
		arr[i] = tx.Value()
	}
	data, err := MarshalCanonical(arr)
	if err != nil {
		return nil, &SerializationError{What: "batch", Err: err}
	}
	return data, nil
}

// DecodeBatch restores a batch written by EncodeBatch.
func DecodeBatch(data []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, &SerializationError{What: "batch", Err: err}
	}
	if b == nil {
		b = Batch{}
	}
	return b, nil
}

// EncodeValue serializes a record payload using canonical JSON.
func EncodeValue(v IRValue) ([]byte, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return nil, &SerializationError{What: "payload", Err: err}
	}
	return data, nil
}

// DecodeValue restores a record payload written by EncodeValue.
func DecodeValue(data []byte) (IRValue, error) {
	v, err := UnmarshalIRValue(data)
	if err != nil {
		return nil, &SerializationError{What: "payload", Err: err}
	}
	return v, nil
}

// NormalizeRange applies the range defaults shared by every log backend:
// from <= 0 means the first position. Only Unbounded leaves the upper end
// open, so an explicit to <= 0 selects nothing.
func NormalizeRange(from, to int64) (int64, int64) {
	if from <= 0 {
		from = 1
	}
	return from, to
}
