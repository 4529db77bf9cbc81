package callgate

import (
	"context"
	"fmt"
	"sync"
)

// Handle is the type-erased view of a running outcome. It is what the store
// records as the in-flight marker for a key.
type Handle interface {
	// Done is closed once the outcome has settled.
	Done() <-chan struct{}
	// Result blocks until the outcome settles and returns its value and error.
	Result() (any, error)
}

// Outcome is the eventual result of a started operation.
// Every caller holding the same Outcome observes the same value and error.
type Outcome[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newOutcome[T any]() *Outcome[T] {
	return &Outcome[T]{done: make(chan struct{})}
}

// Go runs fn in a goroutine and returns an Outcome for its result.
// A panic in fn settles the outcome with a *PanicError.
func Go[T any](fn func() (T, error)) *Outcome[T] {
	o := newOutcome[T]()
	go func() {
		o.settle(protect(fn))
	}()
	return o
}

// Resolved returns an already settled successful Outcome.
func Resolved[T any](v T) *Outcome[T] {
	o := newOutcome[T]()
	o.settle(v, nil)
	return o
}

// Failed returns an already settled failed Outcome.
func Failed[T any](err error) *Outcome[T] {
	o := newOutcome[T]()
	var zero T
	o.settle(zero, err)
	return o
}

func (o *Outcome[T]) settle(v T, err error) {
	o.once.Do(func() {
		o.value, o.err = v, err
		close(o.done)
	})
}

// Done is closed once the outcome has settled.
func (o *Outcome[T]) Done() <-chan struct{} {
	return o.done
}

// Await blocks until the outcome settles or ctx is done. Giving up on ctx
// does not stop the underlying operation.
func (o *Outcome[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		return o.value, o.err
	default:
	}
	select {
	case <-o.done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result implements Handle.
func (o *Outcome[T]) Result() (any, error) {
	<-o.done
	return o.value, o.err
}

// attach returns an Outcome that settles like h.
func attach[T any](h Handle) *Outcome[T] {
	if o, ok := h.(*Outcome[T]); ok {
		return o
	}
	o := newOutcome[T]()
	go func() {
		<-h.Done()
		v, err := h.Result()
		o.settle(convert[T](v, err))
	}()
	return o
}

func convert[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrOutcomeType, v, zero)
	}
	return t, nil
}

func protect[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, newPanicError(r)
		}
	}()
	return fn()
}
