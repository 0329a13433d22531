// Package partition runs work on a fixed set of lanes keyed by subject id, so work for one
// subject is serialized while different subjects proceed in parallel.
package partition

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("partition pool closed")

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Pool owns one goroutine per lane. Tasks on a lane run in submission order.
type Pool struct {
	lanes  []chan task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPool starts size lanes, each buffering up to depth pending tasks.
func NewPool(size, depth int) *Pool {
	if size <= 0 {
		size = 1
	}
	if depth <= 0 {
		depth = 64
	}
	p := &Pool{lanes: make([]chan task, size)}
	for i := range p.lanes {
		lane := make(chan task, depth)
		p.lanes[i] = lane
		p.wg.Add(1)
		go p.run(lane)
	}
	return p
}

// Size returns the number of lanes.
func (p *Pool) Size() int { return len(p.lanes) }

// Lane returns the lane index key routes to.
func (p *Pool) Lane(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.lanes)))
}

// Go enqueues fn on key's lane and returns a channel that yields its result.
// Calls made in sequence for the same key run in that sequence.
func (p *Pool) Go(ctx context.Context, key string, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		done <- ErrClosed
		return done
	}
	select {
	case p.lanes[p.Lane(key)] <- task{ctx: ctx, fn: fn, done: done}:
	case <-ctx.Done():
		done <- ctx.Err()
	}
	return done
}

// Do runs fn on key's lane and waits for it.
func (p *Pool) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return <-p.Go(ctx, key, fn)
}

// Close stops accepting work and waits for queued tasks to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, lane := range p.lanes {
		close(lane)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) run(lane chan task) {
	defer p.wg.Done()
	for t := range lane {
		if err := t.ctx.Err(); err != nil {
			t.done <- err
			continue
		}
		t.done <- t.fn(t.ctx)
	}
}
