// Package workers bounds how many blocking calls (extractor downloads, encoder
// and prober processes) run at once across all jobs.
package workers

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned when work is submitted after Close
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a fixed-size pool of slots. A job goroutine blocks in Do only while
// waiting for a slot, and that wait honors cancellation.
type Pool struct {
	slots chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool with size slots (at least one)
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Size returns the number of slots
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Do runs fn in a slot and returns its error. The caller's goroutine runs fn,
// so ordering of callbacks made from fn is preserved.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()
	defer p.wg.Done()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	defer func() { <-p.slots }()

	return fn(ctx)
}

// InFlight returns the number of slots currently taken
func (p *Pool) InFlight() int {
	return len(p.slots)
}

// Close rejects new work and waits for running calls to return
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
