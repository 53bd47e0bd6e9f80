package testutil

import "sync/atomic"

// DeterministicClock stamps batches 1, 2, 3, ... regardless of wall time, so
// a scenario always produces the same committed_at, created_at and updated_at.
//
// Like engine.MonotonicClock it implements Observe, which Engine.Recover
// calls with the last logged committed_at. An engine reopened over an
// existing log therefore continues from that stamp.
type DeterministicClock struct {
	last atomic.Int64
}

// NewDeterministicClock returns a clock whose first stamp is 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// NewDeterministicClockAt returns a clock whose first stamp is start+1.
func NewDeterministicClockAt(start int64) *DeterministicClock {
	c := &DeterministicClock{}
	c.last.Store(start)
	return c
}

func (c *DeterministicClock) Next() int64 {
	return c.last.Add(1)
}

// Current returns the last stamp handed out, or the start value.
func (c *DeterministicClock) Current() int64 {
	return c.last.Load()
}

// Observe moves the clock to at least t.
func (c *DeterministicClock) Observe(t int64) {
	for {
		last := c.last.Load()
		if t <= last || c.last.CompareAndSwap(last, t) {
			return
		}
	}
}
