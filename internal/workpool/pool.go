// Package workpool bounds how many CPU-heavy operations (argon2, HMAC) run at
// once. Callers block until a slot frees up or their context ends.
package workpool

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrUnavailable is returned when the caller's context ends before a slot
// is acquired, or the pool has been closed.
var ErrUnavailable = errors.New("workpool: unavailable")

// Pool is a fixed-size admission gate for CPU-bound work.
type Pool struct {
	sem    *semaphore.Weighted
	size   int64
	closed atomic.Bool

	inFlight atomic.Int64
	waiting  atomic.Int64
}

// New returns a pool admitting size concurrent jobs. size <= 0 uses
// runtime.NumCPU().
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Size returns the configured concurrency.
func (p *Pool) Size() int {
	return int(p.size)
}

// InFlight returns the number of jobs currently executing.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

// Waiting returns the number of callers blocked on admission.
func (p *Pool) Waiting() int64 {
	return p.waiting.Load()
}

// Close stops admitting new work. Jobs already running finish normally.
func (p *Pool) Close() {
	p.closed.Store(true)
}

// Do runs fn once a slot is available.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if p == nil || p.closed.Load() {
		return ErrUnavailable
	}

	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return ErrUnavailable
	}
	defer p.sem.Release(1)

	if p.closed.Load() {
		return ErrUnavailable
	}

	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	fn()
	return nil
}

// Call runs fn on p and returns its result.
func Call[T any](ctx context.Context, p *Pool, fn func() T) (T, error) {
	var out T
	err := p.Do(ctx, func() { out = fn() })
	return out, err
}
