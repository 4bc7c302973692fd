package store

import (
	"context"
	"sync/atomic"
)

// Clock is the monotonic logical clock that stamps statement seq numbers.
// Seq orders statements for merging, so it never depends on wall time.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1. Used to continue
// after the statements already in a store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// ClockFor returns a clock positioned after the highest seq in s when the
// backend implements Sequencer, and a fresh clock otherwise.
func ClockFor(ctx context.Context, s Store) (*Clock, error) {
	seqr, ok := s.(Sequencer)
	if !ok {
		return NewClock(), nil
	}
	top, err := seqr.MaxSeq(ctx)
	if err != nil {
		return nil, err
	}
	return NewClockAt(top), nil
}
