package bridge

import (
	"context"
	"sync"
)

// Signal is a single-assignment completion source. The first Complete wins;
// later calls are ignored.
type Signal[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
}

// NewSignal returns an uncompleted signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{done: make(chan struct{})}
}

// Complete sets the value and releases every waiter. It reports whether
// this call completed the signal.
func (s *Signal[T]) Complete(v T) bool {
	completed := false
	s.once.Do(func() {
		s.val = v
		close(s.done)
		completed = true
	})
	return completed
}

// Done is closed once the signal completes.
func (s *Signal[T]) Done() <-chan struct{} { return s.done }

// Value returns the value if the signal has completed.
func (s *Signal[T]) Value() (T, bool) {
	select {
	case <-s.done:
		return s.val, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until the signal completes or ctx ends.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		return s.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
