package events

import (
	"context"
	"encoding/json"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
)

// DefaultKafkaTopic is the topic events are produced to when none is given.
const DefaultKafkaTopic = "lockstep.txn.events"

// KafkaPublisher implements Publisher on top of a Kafka sync producer.
// Messages are keyed by transaction ID so one transaction's events stay
// ordered within a partition.
type KafkaPublisher struct {
	producer  sarama.SyncProducer
	topic     string
	published uint64
}

// NewKafkaPublisher connects to brokers and returns a publisher for topic.
func NewKafkaPublisher(brokers []string, topic string, cfg *sarama.Config) (*KafkaPublisher, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisherFromProducer(producer, topic), nil
}

// NewKafkaPublisherFromProducer wraps an existing producer.
func NewKafkaPublisherFromProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish implements Publisher.Publish.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.TxnID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return err
	}
	atomic.AddUint64(&p.published, 1)
	return nil
}

// Published returns the number of events successfully produced.
func (p *KafkaPublisher) Published() uint64 {
	return atomic.LoadUint64(&p.published)
}

// Close closes the underlying producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
