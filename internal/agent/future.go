package agent

import (
	"context"
	"sync"
)

type result[T any] struct {
	val T
	err error
}

// Future is the caller-visible handle returned by Call: it resolves exactly
// once, either with the handler's result or with ErrAgentExited. Wait may
// also return early with its context's error; that does not resolve the
// future.
type Future[T any] struct {
	ch   chan result[T]
	once sync.Once
}

// NewFuture creates an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{ch: make(chan result[T], 1)}
}

// Resolve sets the future's value. Only the first call has any effect.
func (f *Future[T]) Resolve(v T, err error) {
	f.once.Do(func() {
		f.ch <- result[T]{val: v, err: err}
	})
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case r := <-f.ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
