package repository

import (
	"context"
	"fmt"

	"QuantSim/internal/domain/models"
	pkgkafka "QuantSim/pkg/kafka"
)

// BatchPublisher is satisfied by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaEventSink streams trade events to a topic keyed by run id, so every
// event of a run lands on one partition and keeps its order.
type KafkaEventSink struct {
	pub   BatchPublisher
	topic string
}

func NewKafkaEventSink(pub BatchPublisher, topic string) *KafkaEventSink {
	return &KafkaEventSink{pub: pub, topic: topic}
}

func (s *KafkaEventSink) Name() string { return "kafka" }

func (s *KafkaEventSink) WriteEvents(ctx context.Context, events []models.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(events))
	for i, ev := range events {
		msgs[i] = pkgkafka.Message{Key: []byte(ev.RunID), Value: ev}
	}
	if err := s.pub.PublishBatch(ctx, s.topic, msgs); err != nil {
		return fmt.Errorf("publish %d events to %s: %w", len(events), s.topic, err)
	}
	return nil
}

func (s *KafkaEventSink) Close() error { return s.pub.Close() }
