// Package executor provides the task-execution facility the coordinator runs
// transaction attempts on: "run now", "run after a delay" and a clean shutdown.
package executor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
)

// Executor runs tasks asynchronously.
type Executor interface {
	// Go runs task as soon as a worker is available.
	Go(task func()) error
	// AfterFunc runs task on a worker once d has elapsed.
	AfterFunc(d time.Duration, task func()) error
	// Shutdown stops accepting tasks and waits for accepted ones to finish
	// or for ctx to end.
	Shutdown(ctx context.Context) error
}

// Pool is an Executor backed by goroutines whose concurrency is bounded by a
// weighted semaphore. Delayed tasks count as in flight from the moment they
// are accepted, so Shutdown waits for them too.
type Pool struct {
	sem     *semaphore.Weighted
	workers int
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	done   chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers bounds the number of tasks running at the same time.
// Non-positive values are ignored.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger used for task panics.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool returns a running Pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		workers: runtime.GOMAXPROCS(0) * 4,
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(int64(p.workers))
	return p
}

// Workers returns the concurrency bound of the pool.
func (p *Pool) Workers() int { return p.workers }

func (p *Pool) accept() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return lserrors.ErrShutdown
	}
	p.wg.Add(1)
	return nil
}

// Go implements Executor.Go.
func (p *Pool) Go(task func()) error {
	if err := p.accept(); err != nil {
		return err
	}
	go p.run(task)
	return nil
}

// AfterFunc implements Executor.AfterFunc. A task accepted before Shutdown
// still runs after its delay.
func (p *Pool) AfterFunc(d time.Duration, task func()) error {
	if err := p.accept(); err != nil {
		return err
	}
	time.AfterFunc(d, func() { p.run(task) })
	return nil
}

func (p *Pool) run(task func()) {
	defer p.wg.Done()
	// Acquire only fails on context cancellation.
	_ = p.sem.Acquire(context.Background(), 1)
	defer p.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("executor: task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Shutdown implements Executor.Shutdown. It is safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		go func() {
			p.wg.Wait()
			close(p.done)
		}()
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
