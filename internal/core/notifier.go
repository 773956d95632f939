package core

import "sync"

// Notifier is a one-shot broadcast primitive: any number of callers can Wait
// for the next Fire, and every one of them observes the same result.
//
// It generalizes the close-a-channel-after-storing-a-result idiom (one
// generation per outstanding wait, rotated on each Fire) via Go generics so
// it can be reused both for substantiation results (bool, error) and for
// insubstantiation completion (error alone).
//
// The zero value is not usable; construct with NewNotifier.
type Notifier[T any] struct {
	mu  sync.Mutex
	gen *generation[T]
}

type generation[T any] struct {
	done   chan struct{}
	result T
}

// NewNotifier returns a ready-to-use Notifier.
func NewNotifier[T any]() *Notifier[T] {
	return &Notifier[T]{gen: &generation[T]{done: make(chan struct{})}}
}

// Wait registers interest in the next Fire. It returns a channel that closes
// when that Fire happens, and an accessor function that returns the fired
// result. The accessor must only be called after the channel has closed;
// calling it earlier returns the zero value of T.
//
// Wait is safe to call concurrently with Fire and with other Wait calls.
func (n *Notifier[T]) Wait() (<-chan struct{}, func() T) {
	n.mu.Lock()
	gen := n.gen
	n.mu.Unlock()
	return gen.done, func() T { return gen.result }
}

// Fire delivers result to every goroutine currently blocked in Wait, then
// rotates to a fresh generation so subsequent Wait calls register against a
// new, not-yet-fired instance. Fire with no current waiters is a no-op
// beyond the rotation.
//
// Fire must not be called twice on the same generation; doing so panics,
// mirroring close-of-closed-channel semantics, since firing twice indicates
// two code paths both believe they own completion of the same operation.
func (n *Notifier[T]) Fire(result T) {
	n.mu.Lock()
	gen := n.gen
	n.gen = &generation[T]{done: make(chan struct{})}
	n.mu.Unlock()

	gen.result = result
	close(gen.done)
}

// HasWaiters reports whether the current generation has not yet fired. This
// is necessarily racy with respect to concurrent Wait/Fire calls and is
// intended only for diagnostics and tests.
func (n *Notifier[T]) HasWaiters() bool {
	n.mu.Lock()
	gen := n.gen
	n.mu.Unlock()
	select {
	case <-gen.done:
		return false
	default:
		return true
	}
}
