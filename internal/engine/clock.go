package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Each batch owns one; every dispatched
// directive and every publish attempt is stamped with Next() so the journal
// can order them without wall-clock time.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
