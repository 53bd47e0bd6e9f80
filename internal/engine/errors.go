package engine

import (
	"errors"
	"fmt"
)

// ReplayMismatchError reports that rebuilding the store from the log did not
// reproduce the live store.
type ReplayMismatchError struct {
	// Position is the last log position replayed.
	Position int64

	// Expected is the digest of the store rebuilt from the log.
	Expected string

	// Actual is the digest of the live store.
	Actual string

	// Details lists up to a handful of differing record ids.
	Details []string
}

// Error implements the error interface.
func (e *ReplayMismatchError) Error() string {
	msg := fmt.Sprintf("replay mismatch at position %d: rebuilt %s, live %s", e.Position, short(e.Expected), short(e.Actual))
	if len(e.Details) > 0 {
		msg += fmt.Sprintf(" (%d differing records, first %q)", len(e.Details), e.Details[0])
	}
	return msg
}

// IsReplayMismatch returns true if err is or wraps a ReplayMismatchError.
func IsReplayMismatch(err error) bool {
	var re *ReplayMismatchError
	return errors.As(err, &re)
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
