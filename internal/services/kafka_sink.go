package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes events for the external ledger. Messages are keyed by
// game (round events) or bet id so a partition sees a game's rounds in order.
type KafkaSink struct {
	Writer *kafka.Writer
}

func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaSink(w *kafka.Writer) *KafkaSink {
	return &KafkaSink{Writer: w}
}

func (s *KafkaSink) Broadcast(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key()),
		Value: b,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.Type)},
		},
	}); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.Writer.Close()
}
