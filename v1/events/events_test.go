package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus(0)
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ev := Event{TxnID: "t1", State: StateAcquiring, Resources: []string{"a", "b"}}
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.TxnID != "t1" || got.State != StateAcquiring {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	m := bus.Metrics()
	if m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestInMemoryBusDropsWhenFull(t *testing.T) {
	bus := NewInMemoryBus(1)
	ctx := context.Background()
	if _, err := bus.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = bus.Publish(ctx, Event{TxnID: "1"})
	_ = bus.Publish(ctx, Event{TxnID: "2"})
	if m := bus.Metrics(); m.Dropped != 1 {
		t.Fatalf("expected one dropped event, got %+v", m)
	}
}

func TestInMemoryBusContextUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(ctx)
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateSucceeded, StateExhausted, StateFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StatePending, StateAcquiring, StateRunning, StateFailedAttempt, StateRetryWait} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestMultiPublishesToAll(t *testing.T) {
	a, b := NewInMemoryBus(0), NewInMemoryBus(0)
	boom := errors.New("boom")
	m := Multi{a, failingPublisher{boom}, b}
	if err := m.Publish(context.Background(), Event{TxnID: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if a.Metrics().Published != 1 || b.Metrics().Published != 1 {
		t.Fatal("every publisher should receive the event")
	}
}
