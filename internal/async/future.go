// Package async provides a single-settlement deferred result.
//
// A Future starts in flight and moves exactly once to fulfilled or rejected.
// Settling it a second time is a programming error and panics.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadySettled is the panic value raised when a Resolver is used twice.
var ErrAlreadySettled = errors.New("async: future already settled")

// State is the lifecycle position of a Future.
type State int

const (
	StatePending State = iota
	StateFulfilled
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Future is the read side of a deferred result.
type Future[T any] struct {
	done  chan struct{}
	mu    sync.Mutex
	state State
	value T
	err   error
}

// Resolver is the write side. Only the code that created the Future holds it.
type Resolver[T any] struct {
	f *Future[T]
}

// New returns a pending Future and the Resolver that settles it.
func New[T any]() (*Future[T], *Resolver[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return f, &Resolver[T]{f: f}
}

// Fulfill settles the future with v. It panics if the future is already settled.
func (r *Resolver[T]) Fulfill(v T) {
	r.settle(StateFulfilled, v, nil)
}

// Reject settles the future with err. A nil err is replaced with a generic
// error so a rejected future never reads as success.
func (r *Resolver[T]) Reject(err error) {
	if err == nil {
		err = errors.New("async: rejected with nil error")
	}
	var zero T
	r.settle(StateRejected, zero, err)
}

func (r *Resolver[T]) settle(state State, v T, err error) {
	f := r.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePending {
		panic(fmt.Errorf("%w (was %s, attempted %s)", ErrAlreadySettled, f.state, state))
	}
	f.state = state
	f.value = v
	f.err = err
	close(f.done)
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// State reports the current lifecycle position without blocking.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Await blocks until the future settles or ctx ends. A ctx error does not
// affect the future; a later settlement is simply not observed by this caller.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Go runs fn on its own goroutine and settles the returned future with its
// outcome. A panic in fn rejects the future instead of crashing the process.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f, r := New[T]()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.Reject(fmt.Errorf("async: operation panicked: %v", p))
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			r.Reject(err)
			return
		}
		r.Fulfill(v)
	}()
	return f
}

// Fulfilled returns an already-fulfilled future.
func Fulfilled[T any](v T) *Future[T] {
	f, r := New[T]()
	r.Fulfill(v)
	return f
}

// Rejected returns an already-rejected future.
func Rejected[T any](err error) *Future[T] {
	f, r := New[T]()
	r.Reject(err)
	return f
}
