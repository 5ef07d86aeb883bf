package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

// KafkaWriter is the subset of *kafka.Writer used by the sink.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes change events to a Kafka topic keyed by order id, so one order's events stay
// on one partition in commit order.
type KafkaSink struct {
	writer KafkaWriter
}

// NewKafkaWriter builds a synchronous writer that waits for all in-sync replicas.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka sink: brokers and topic are required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}, nil
}

// NewKafkaSink wraps writer.
func NewKafkaSink(writer KafkaWriter) (*KafkaSink, error) {
	if writer == nil {
		return nil, errors.New("kafka sink: writer is required")
	}
	return &KafkaSink{writer: writer}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(ctx context.Context, event domain.OutboxEvent) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(partitionKey(event)),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "eventId", Value: []byte(event.ID)},
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka sink: write %s: %w", event.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error { return k.writer.Close() }
