// Package events carries transaction state changes out of the coordinator.
// Buses are best effort: a slow subscriber drops events instead of stalling
// the transactions that produce them.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is a step of the per-transaction state machine.
type State string

const (
	StatePending       State = "PENDING"
	StateAcquiring     State = "ACQUIRING"
	StateRunning       State = "RUNNING"
	StateSucceeded     State = "SUCCEEDED"
	StateFailedAttempt State = "FAILED_ATTEMPT"
	StateRetryWait     State = "RETRY_WAIT"
	StateExhausted     State = "EXHAUSTED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateExhausted, StateFailed:
		return true
	}
	return false
}

// Event describes one transition of a transaction.
type Event struct {
	TxnID     string    `json:"txn_id"`
	State     State     `json:"state"`
	Attempt   int       `json:"attempt"`
	Resources []string  `json:"resources"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is a Publisher that can also be subscribed to.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context) (<-chan Event, error)
	Unsubscribe(ctx context.Context, ch <-chan Event) error
}

type Metrics struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

const defaultBuffer = 64

// InMemoryBus is a process-local Bus.
type InMemoryBus struct {
	mu     sync.Mutex
	subs   []chan Event
	buffer int

	published uint64
	delivered uint64
	dropped   uint64
}

// NewInMemoryBus returns a bus whose subscriber channels hold up to buffer
// undelivered events. A non-positive buffer uses the default of 64.
func NewInMemoryBus(buffer int) *InMemoryBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &InMemoryBus{buffer: buffer}
}

// Publish implements Publisher.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	atomic.AddUint64(&b.published, 1)
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			atomic.AddUint64(&b.delivered, 1)
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx does.
func (b *InMemoryBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe and closes ch.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, ch <-chan Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.subs {
		if c == ch {
			b.subs[i] = b.subs[len(b.subs)-1]
			b.subs = b.subs[:len(b.subs)-1]
			close(c)
			break
		}
	}
	return nil
}

func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
		Dropped:   atomic.LoadUint64(&b.dropped),
	}
}

// Multi fans an event out to several publishers, returning the first error.
type Multi []Publisher

// Publish implements Publisher.Publish.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
