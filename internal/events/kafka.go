package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the part of *kgo.Client the Kafka sink uses.
//
//go:generate mockgen -destination=mocks/mock_producer.go -package=mocks -source=kafka.go Producer
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaSink forwards events to a topic keyed by aggregate id, so all events
// of one user land on the same partition in order.
type KafkaSink struct {
	producer Producer
	topic    string
	logger   logrus.FieldLogger
}

func NewKafkaClient(brokers []string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("credits"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RecordDeliveryTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return client, nil
}

// FlushCloser is the part of *kgo.Client needed at shutdown.
type FlushCloser interface {
	Flush(ctx context.Context) error
	Close()
}

// CloseKafka waits up to timeout for buffered records to reach the broker,
// then closes the client. The client is closed even when the flush fails.
func CloseKafka(client FlushCloser, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := client.Flush(ctx)
	client.Close()
	if err != nil {
		return fmt.Errorf("failed to flush kafka producer: %w", err)
	}
	return nil
}

func NewKafkaSink(producer Producer, topic string, logger logrus.FieldLogger) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

// Handle enqueues the event and returns without waiting for the broker.
// Delivery failures are logged from the produce callback.
func (s *KafkaSink) Handle(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(e.AggregateID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
	}
	s.producer.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"event_type": e.Type,
				"event_id":   e.ID,
				"topic":      r.Topic,
			}).WithError(err).Error("failed to produce event")
		}
	})
	return nil
}
