package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidActionError(t *testing.T) {
	err := fmt.Errorf("ingest: %w", &InvalidActionError{Action: "bogus", Index: 2})

	assert.True(t, IsInvalidAction(err))
	assert.False(t, IsPersistence(err))
	assert.Equal(t, `ingest: invalid action "bogus" at index 2`, err.Error())

	var iae *InvalidActionError
	if assert.True(t, errors.As(err, &iae)) {
		assert.Equal(t, "bogus", iae.Action)
	}
}

func TestPersistenceWrapsOnce(t *testing.T) {
	cause := errors.New("disk full")

	err := Persistence("append", cause)
	assert.True(t, IsPersistence(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persistence: append: disk full", err.Error())

	assert.Same(t, err, Persistence("outer", err))
	assert.Nil(t, Persistence("noop", nil))
}

func TestPersistenceKeepsSerialization(t *testing.T) {
	ser := &SerializationError{What: "batch", Err: errors.New("bad json")}

	err := Persistence("read", ser)
	assert.True(t, IsSerialization(err))
	assert.False(t, IsPersistence(err))
}
