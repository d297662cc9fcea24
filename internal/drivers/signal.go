package drivers

import "sync"

// CancelSignal is a one-way cooperative stop flag shared between the task
// scheduler and a driver running a search. Once set it stays set.
type CancelSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelSignal returns an untripped signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{ch: make(chan struct{})}
}

// Set trips the signal. Safe to call concurrently; repeat calls are no-ops.
func (s *CancelSignal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has been tripped.
func (s *CancelSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal trips, for use in select.
func (s *CancelSignal) Done() <-chan struct{} {
	return s.ch
}
