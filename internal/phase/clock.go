package phase

import "sync/atomic"

// Clock is a monotonic logical clock. Every scored outcome is stamped
// with a strictly increasing seq number so orderings survive replay and
// never depend on wall-clock reads.
//
// Thread-safety: safe for concurrent use (atomic operations), though
// the controller's single-driver design means one goroutine typically
// calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used when resuming against an existing results log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
