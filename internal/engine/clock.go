package engine

import "sync/atomic"

// Clock is the dispatcher's logical clock. Every accepted action is stamped
// with the next value, so Seq reflects dispatch order independently of wall
// time and survives into the journal.
//
// Safe for concurrent use: Dispatch may be called from any goroutine.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, for example from the
// highest sequence number in the journal.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
