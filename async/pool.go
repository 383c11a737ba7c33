package async

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many blocking calls run at once. A nil *Pool, or one built with a
// non-positive size, is unbounded: each call gets a fresh goroutine.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool running at most size calls concurrently.
func NewPool(size int64) *Pool {
	if size <= 0 {
		return &Pool{}
	}
	return &Pool{sem: semaphore.NewWeighted(size)}
}

func (p *Pool) acquire(ctx context.Context) error {
	if p == nil || p.sem == nil {
		return nil
	}
	return p.sem.Acquire(ctx, 1)
}

func (p *Pool) release() {
	if p == nil || p.sem == nil {
		return
	}
	p.sem.Release(1)
}

// Go schedules fn on a pool goroutine and returns its future immediately.
// An error returned by fn (or a panic, as *PanicError) becomes the future's error
// unchanged; nothing is retried here.
func Go[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := newFuture[T]()
	f.cancel = cancel

	go func() {
		defer cancel()
		var zero T
		if err := p.acquire(ctx); err != nil {
			f.complete(zero, err)
			return
		}
		defer p.release()
		defer func() {
			if r := recover(); r != nil {
				f.complete(zero, &PanicError{Value: r})
			}
		}()
		v, err := fn(ctx)
		f.complete(v, err)
	}()
	return f
}
