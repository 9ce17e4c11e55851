package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

// DefaultNATSSubject is the subject events are published on when none is given.
const DefaultNATSSubject = "lockstep.txn.events"

type natsSubscription struct {
	sub *nats.Subscription
	ch  chan Event
}

// NATSBus implements Bus using a NATS backend. Events are JSON encoded.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	buffer  int

	mu   sync.Mutex
	subs map[<-chan Event]*natsSubscription

	published uint64
	delivered uint64
	dropped   uint64
}

// NewNATSBus returns a NATSBus publishing on subject over conn. An empty
// subject uses DefaultNATSSubject.
func NewNATSBus(conn *nats.Conn, subject string) *NATSBus {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSBus{
		conn:    conn,
		subject: subject,
		buffer:  defaultBuffer,
		subs:    make(map[<-chan Event]*natsSubscription),
	}
}

// Publish implements Publisher.Publish.
func (b *NATSBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe. Messages that fail to decode are skipped.
func (b *NATSBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, b.buffer)
	s := &natsSubscription{ch: ch}

	// Holding mu while registering keeps the handler from seeing a
	// half-built subscription.
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; !ok {
			return
		}
		select {
		case ch <- ev:
			atomic.AddUint64(&b.delivered, 1)
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	s.sub = sub
	b.subs[ch] = s

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe and closes ch.
func (b *NATSBus) Unsubscribe(ctx context.Context, ch <-chan Event) error {
	b.mu.Lock()
	s, ok := b.subs[ch]
	if ok {
		delete(b.subs, ch)
		close(s.ch)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
		Dropped:   atomic.LoadUint64(&b.dropped),
	}
}
