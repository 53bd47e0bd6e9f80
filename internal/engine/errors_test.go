package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayMismatchError(t *testing.T) {
	err := fmt.Errorf("replay: %w", &ReplayMismatchError{
		Position: 7,
		Expected: "aaaaaaaaaaaaaaaaaaaaaaaa",
		Actual:   "bbbbbbbbbbbbbbbbbbbbbbbb",
		Details:  []string{"Todo/a", "Todo/b"},
	})

	assert.True(t, IsReplayMismatch(err))
	assert.Equal(t,
		`replay: replay mismatch at position 7: rebuilt aaaaaaaaaaaa, live bbbbbbbbbbbb (2 differing records, first "Todo/a")`,
		err.Error())
	assert.False(t, IsReplayMismatch(fmt.Errorf("other")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ingested(1, 1, 0.1)
		m.rejected("invalid_action")
		m.replayFailed()
		m.applied(1, 1)
		m.status(1, 1)
	})
}
