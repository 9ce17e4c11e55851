package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
	"github.com/mirkobrombin/go-lockstep/v1/metrics"
)

// Token identifies one hold of a Mutex. The zero Token never owns anything.
type Token string

// Mutex is an exclusive, non-reentrant lock on a single resource. Waiters are
// not served in any particular order.
type Mutex struct {
	key string
	sem chan struct{}

	mu    sync.Mutex
	owner Token
}

// NewMutex returns a free lock for key.
func NewMutex(key string) *Mutex {
	return &Mutex{key: key, sem: make(chan struct{}, 1)}
}

// Key returns the resource identifier guarded by the lock.
func (m *Mutex) Key() string { return m.key }

// TryAcquire waits up to timeout for ownership of the lock. A non-positive
// timeout makes a single attempt without waiting.
//
// On success it returns the Token that must be passed to Release. When the
// timeout elapses it returns ok == false and a nil error. When ctx ends first
// it returns ctx.Err(). In both failure cases no hold is taken.
func (m *Mutex) TryAcquire(ctx context.Context, timeout time.Duration) (Token, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if timeout <= 0 {
		select {
		case m.sem <- struct{}{}:
			return m.own(), true, nil
		default:
			return "", false, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.sem <- struct{}{}:
		return m.own(), true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (m *Mutex) own() Token {
	t := Token(uuid.NewString())
	m.mu.Lock()
	m.owner = t
	m.mu.Unlock()
	metrics.HeldLocks.Inc()
	return t
}

// Release frees the hold identified by t. It returns ErrNotOwner, leaving the
// lock untouched, if t is not the current hold.
func (m *Mutex) Release(t Token) error {
	m.mu.Lock()
	if t == "" || m.owner != t {
		m.mu.Unlock()
		return lserrors.ErrNotOwner
	}
	m.owner = ""
	<-m.sem
	m.mu.Unlock()
	metrics.HeldLocks.Dec()
	return nil
}

// Held reports whether the lock is currently owned by anyone.
func (m *Mutex) Held() bool {
	return len(m.sem) == 1
}
