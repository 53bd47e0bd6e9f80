package ir

import (
	"errors"
	"fmt"
)

// ErrEmptyBatch is returned when a batch has no transactions.
var ErrEmptyBatch = errors.New("batch must contain at least one transaction")

// InvalidActionError rejects a batch containing an unknown action.
// Nothing is written when this error is returned; the caller must resubmit a
// corrected batch.
type InvalidActionError struct {
	Action string
	Index  int // position of the offending transaction within the batch
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action %q at index %d", e.Action, e.Index)
}

// PersistenceError reports a failure of the underlying durable storage.
// Retrying the same input later may succeed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SerializationError reports a stored batch or payload that cannot be decoded
// (or a value that cannot be encoded). It is a data-integrity fault.
type SerializationError struct {
	What string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization: %s: %v", e.What, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Persistence wraps err as a PersistenceError unless it already carries a
// classified error (persistence or serialization).
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsPersistence(err) || IsSerialization(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsInvalidAction returns true if err is or wraps an InvalidActionError.
func IsInvalidAction(err error) bool {
	var e *InvalidActionError
	return errors.As(err, &e)
}

// IsPersistence returns true if err is or wraps a PersistenceError.
func IsPersistence(err error) bool {
	var e *PersistenceError
	return errors.As(err, &e)
}

// IsSerialization returns true if err is or wraps a SerializationError.
func IsSerialization(err error) bool {
	var e *SerializationError
	return errors.As(err, &e)
}
