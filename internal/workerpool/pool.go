// Package workerpool runs provider calls off the caller's goroutine with
// bounded concurrency.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/pushbridge/internal/log"
)

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 4

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("worker pool closed")

// Task is one unit of work. The context is never cancelled by the pool;
// tasks run to completion.
type Task func(ctx context.Context)

// Pool is a bounded worker pool. Submit never blocks; tasks beyond the
// concurrency limit wait for a free slot.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	running atomic.Int64
	waiting atomic.Int64
}

// New creates a pool running at most size tasks at once.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: log.WithComponent("workerpool"),
	}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int { return p.size }

// Submit schedules task. name is used for logging only.
func (p *Pool) Submit(name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.wg.Add(1)
	p.waiting.Add(1)
	go func() {
		defer p.wg.Done()
		ctx := context.Background()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.waiting.Add(-1)
			p.logger.Error("failed to acquire worker slot", "task", name, "error", err)
			return
		}
		p.waiting.Add(-1)
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			p.sem.Release(1)
		}()
		p.run(ctx, name, task)
	}()
	return nil
}

func (p *Pool) run(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "task", name, "panic", fmt.Sprint(r))
		}
	}()
	task(ctx)
}

// Stats returns the number of running and waiting tasks.
func (p *Pool) Stats() (running, waiting int) {
	return int(p.running.Load()), int(p.waiting.Load())
}

// Close stops accepting tasks and waits for submitted ones to finish or for
// ctx to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		running, waiting := p.Stats()
		return fmt.Errorf("worker pool close: %w (running=%d waiting=%d)", ctx.Err(), running, waiting)
	}
}
