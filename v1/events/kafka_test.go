package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama/mocks"
)

func TestKafkaPublisherProducesJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.TxnID != "t1" || ev.State != StateExhausted {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	})
	p := NewKafkaPublisherFromProducer(producer, "")
	defer func() { _ = p.Close() }()

	if err := p.Publish(context.Background(), Event{TxnID: "t1", State: StateExhausted}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if p.Published() != 1 {
		t.Fatalf("expected 1 published, got %d", p.Published())
	}
}

func TestKafkaPublisherSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	boom := errors.New("broker down")
	producer.ExpectSendMessageAndFail(boom)
	p := NewKafkaPublisherFromProducer(producer, "events")
	defer func() { _ = p.Close() }()

	if err := p.Publish(context.Background(), Event{TxnID: "t1"}); !errors.Is(err, boom) {
		t.Fatalf("expected broker error, got %v", err)
	}
	if p.Published() != 0 {
		t.Fatal("failed sends must not be counted")
	}
}

func TestKafkaPublisherDefaultTopic(t *testing.T) {
	p := NewKafkaPublisherFromProducer(mocks.NewSyncProducer(t, nil), "")
	defer func() { _ = p.Close() }()

	if p.topic != "lockstep.txn.events" {
		t.Fatalf("unexpected default topic %q", p.topic)
	}
	if DefaultKafkaTopic != DefaultNATSSubject {
		t.Fatalf("kafka topic %q and nats subject %q diverged", DefaultKafkaTopic, DefaultNATSSubject)
	}
}
