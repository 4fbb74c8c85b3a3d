package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Publisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes trade events to a Kafka topic keyed by user, so one
// user's trades stay ordered within a partition.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka publisher needs brokers and a topic")
	}
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
	}}, nil
}

// Publish writes ev to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.TradeEvent) error {
	msg, err := kafkaMessage(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func kafkaMessage(ev domain.TradeEvent) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding trade event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Record.UserID),
		Value: b,
		Time:  ev.Record.Timestamp,
	}, nil
}
