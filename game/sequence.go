package game

import "go.uber.org/atomic"

// Sequence hands out monotonically increasing values. Values are never
// reused for the lifetime of the process, even after the agent that held
// one is killed.
type Sequence struct {
	next *atomic.Uint64
}

// NewSequence creates a sequence whose first value is start.
func NewSequence(start uint64) *Sequence {
	next := atomic.NewUint64(start)
	return &Sequence{next: next}
}

// Next returns the next value in the sequence.
func (s *Sequence) Next() uint64 {
	return s.next.Inc() - 1
}
