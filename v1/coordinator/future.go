package coordinator

import (
	"context"
	"sync"
)

// Outcome is the resolved result of a transaction.
type Outcome struct {
	TxnID string
	// Committed is true when the work ran to completion with every lock held.
	Committed bool
	// Attempts is the number of attempts made, the successful one included.
	Attempts int
	// Err is nil for commits and for retry exhaustion. It wraps
	// errors.ErrWorkFailed when the work failed, and carries the context
	// error or errors.ErrShutdown otherwise.
	Err error
}

// Future resolves once its transaction commits or fails for good.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once
	out  Outcome
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func (f *Future) resolve(out Outcome) {
	f.once.Do(func() {
		f.out = out
		close(f.done)
	})
}

// ID returns the transaction ID.
func (f *Future) ID() string { return f.id }

// Done is closed once the outcome is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Outcome returns the outcome and true once resolved, without blocking.
func (f *Future) Outcome() (Outcome, bool) {
	select {
	case <-f.done:
		return f.out, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the transaction resolves or ctx ends. It returns whether
// the transaction committed together with Outcome.Err. Giving up on ctx does
// not cancel the transaction.
func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.out.Committed, f.out.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// WaitAll waits for every future to resolve or for ctx to end.
func WaitAll(ctx context.Context, futures ...*Future) error {
	for _, f := range futures {
		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
