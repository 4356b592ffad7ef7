package pubsub

import "context"

// Listener is a pull-style wrapper over one subscription.
type Listener[T any] struct {
	ch <-chan Event[T]
}

// NewListener subscribes to s for the lifetime of ctx.
func NewListener[T any](ctx context.Context, s Subscriber[T]) *Listener[T] {
	return &Listener[T]{ch: s.Subscribe(ctx)}
}

// Next blocks until an event arrives. It returns false once ctx ends or the
// subscription closes.
func (l *Listener[T]) Next(ctx context.Context) (Event[T], bool) {
	select {
	case <-ctx.Done():
		return Event[T]{}, false
	case ev, ok := <-l.ch:
		return ev, ok
	}
}

// C exposes the underlying channel for select loops.
func (l *Listener[T]) C() <-chan Event[T] {
	return l.ch
}
