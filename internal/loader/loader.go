// Package loader runs blocking data loads off the frame thread. The frame
// thread never waits: it polls futures and retries on a later frame.
package loader

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// ErrCanceled is the error of a future canceled before completion.
var ErrCanceled = errors.New("load canceled")

// Future is the eventual result of a load.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	val    T
	err    error
}

// Pool bounds the number of loads running at once.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool returns a pool running at most n loads concurrently.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n))}
}

// Go starts fn in its own goroutine, subject to the pool limit when p is not
// nil, and returns its future.
func Go[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(f.done)
		defer cancel()
		if p != nil {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				f.err = fmt.Errorf("%w: %v", ErrCanceled, err)
				return
			}
			defer p.sem.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("load panicked: %v", r)
			}
		}()
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Ready returns a completed future holding v.
func Ready[T any](v T) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), cancel: func() {}, val: v}
	close(f.done)
	return f
}

// Poll returns the result without blocking. done is false while the load is
// still running.
func (f *Future[T]) Poll() (v T, done bool, err error) {
	select {
	case <-f.done:
		return f.val, true, f.err
	default:
		var zero T
		return zero, false, nil
	}
}

// Wait blocks until the load completes or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the load completes.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Cancel asks the load to stop. A load that already completed keeps its
// result.
func (f *Future[T]) Cancel() { f.cancel() }
