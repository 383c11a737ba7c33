// Package async turns blocking "send and wait for bytes" calls into futures.
//
// Every blocking call runs on its own goroutine, gated by an optional bounded Pool,
// never on the caller's goroutine. The caller suspends only where it turns a Future
// into a value with Await.
//
//	caller ──Go(fn)──► Future (returned immediately)
//	                     ▲
//	pool goroutine ──fn()──┘ complete(value | error)
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCancelled is the outcome of a future cancelled before it completed.
var ErrCancelled = errors.New("future cancelled")

// Future is the pending outcome of an asynchronous call. It completes exactly once;
// later completions (a late reply after Cancel) are dropped.
type Future[T any] struct {
	done   chan struct{}
	once   sync.Once
	value  T
	err    error
	cancel context.CancelFunc
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.complete(v, nil)
	return f
}

// Failed returns a future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

// complete records the outcome and reports whether this call won.
func (f *Future[T]) complete(v T, err error) bool {
	won := false
	f.once.Do(func() {
		f.value, f.err = v, err
		won = true
		close(f.done)
	})
	return won
}

// Done is closed once the future has an outcome.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the future has completed.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future completes or ctx ends. A ctx ending does not
// cancel the future; other waiters still receive the outcome.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}

// Cancel completes the future with ErrCancelled and cancels the context handed to
// the blocking call. Aborting the in-flight network operation is best effort; the
// guarantee is only that a late result is never delivered.
func (f *Future[T]) Cancel() {
	var zero T
	f.complete(zero, ErrCancelled)
	if f.cancel != nil {
		f.cancel()
	}
}

// Then derives a future that applies fn to the outcome of f.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := newFuture[U]()
	out.cancel = f.Cancel
	go func() {
		<-f.done
		var zero U
		if f.err != nil {
			out.complete(zero, f.err)
			return
		}
		u, err := fn(f.value)
		out.complete(u, err)
	}()
	return out
}

// PanicError carries a panic recovered from a blocking call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in async call: %v", e.Value)
}
