package engine

import (
	"sync/atomic"
	"time"
)

// Clock stamps each ingested batch with its logical instant.
//
// Implemented by MonotonicClock (production) and testutil.DeterministicClock
// (tests). Values must be strictly increasing across calls.
type Clock interface {
	Next() int64
}

// MonotonicClock returns wall-clock Unix milliseconds, forced strictly
// increasing. Two batches in the same millisecond get consecutive values,
// and a wall clock that steps backwards never produces a smaller stamp.
//
// Thread-safety: safe for concurrent use (atomic operations).
type MonotonicClock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewMonotonicClock creates a clock backed by time.Now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// NewMonotonicClockAt creates a clock that never returns a value <= start.
// Used after restart to continue past the last logged CommittedAt.
func NewMonotonicClockAt(start int64) *MonotonicClock {
	c := NewMonotonicClock()
	c.last.Store(start)
	return c
}

// Next returns the next timestamp.
func (c *MonotonicClock) Next() int64 {
	for {
		last := c.last.Load()
		next := c.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Current returns the last value handed out without advancing.
func (c *MonotonicClock) Current() int64 {
	return c.last.Load()
}

// Observe moves the clock forward to at least t.
func (c *MonotonicClock) Observe(t int64) {
	for {
		last := c.last.Load()
		if t <= last || c.last.CompareAndSwap(last, t) {
			return
		}
	}
}
