// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Package future provides a minimal single-assignment future and promise
// abstraction, used by the proxy core to let a filter defer its verdict on a
// frame without blocking the connection's pump goroutine.
//
// A Promise is the write side: whoever creates it decides when and how it
// completes. A Future is the read side: listeners registered before
// completion are invoked exactly once when the promise resolves, and
// listeners registered after completion are invoked synchronously and
// immediately. Completing an already-completed promise is a no-op.
//
// Promises may be completed from any goroutine; the container synchronizes
// internally. Listeners run synchronously on whichever goroutine completes
// the promise (or registers, if already complete), so they must not block.
package future

import (
	"context"
	"sync"
)

// A Listener receives the result of a completed future. Exactly one of the
// success value or the error is meaningful: err is nil on success and non-nil
// on failure.
type Listener[T any] func(value T, err error)

// A Future is the read side of a single-assignment result cell.
type Future[T any] struct {
	mu    sync.Mutex
	done  chan struct{} // closed on completion
	value T
	err   error
	subs  []Listener[T]
}

// A Promise is the write side of a Future. The zero Promise is not valid; use
// New.
type Promise[T any] struct {
	f *Future[T]
}

// New constructs a connected promise and future pair.
func New[T any]() (*Promise[T], *Future[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return &Promise[T]{f: f}, f
}

// Succeed completes the promise with value. It reports whether this call
// completed the promise; if the promise was already complete, Succeed does
// nothing and reports false.
func (p *Promise[T]) Succeed(value T) bool { return p.f.complete(value, nil) }

// Fail completes the promise with err, which must be non-nil. It reports
// whether this call completed the promise.
func (p *Promise[T]) Fail(err error) bool {
	if err == nil {
		panic("future: Fail with nil error")
	}
	var zero T
	return p.f.complete(zero, err)
}

// Future returns the read side of p.
func (p *Promise[T]) Future() *Future[T] { return p.f }

func (f *Future[T]) complete(value T, err error) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.value, f.err = value, err
	subs := f.subs
	f.subs = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range subs {
		fn(value, err)
	}
	return true
}

// Listen registers fn to be invoked with the result of f. If f is already
// complete, fn is invoked synchronously before Listen returns; otherwise fn
// is invoked exactly once on the goroutine that completes f.
func (f *Future[T]) Listen(fn Listener[T]) {
	f.mu.Lock()
	select {
	case <-f.done:
		value, err := f.value, f.err
		f.mu.Unlock()
		fn(value, err)
		return
	default:
	}
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
}

// Done reports whether f has completed.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the result of f. It must only be called after f is complete;
// calling it earlier panics.
func (f *Future[T]) Result() (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		panic("future: Result called before completion")
	}
}

// Wait blocks until f completes and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// WaitContext blocks until f completes or ctx ends, whichever comes first.
// If ctx ends first, the zero value and ctx's error are returned and f is
// left pending.
func (f *Future[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Value completes a future immediately with the given value.
func Value[T any](value T) *Future[T] {
	p, f := New[T]()
	p.Succeed(value)
	return f
}

// Error completes a future immediately with the given error.
func Error[T any](err error) *Future[T] {
	p, f := New[T]()
	p.Fail(err)
	return f
}

// Map derives a future whose value is fn(value) when f succeeds. A failure of
// f propagates to the derived future unchanged, and an error reported by fn
// fails the derived future with that error.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	p, out := New[U]()
	f.Listen(func(value T, err error) {
		if err != nil {
			p.Fail(err)
			return
		}
		u, err := fn(value)
		if err != nil {
			p.Fail(err)
			return
		}
		p.Succeed(u)
	})
	return out
}
