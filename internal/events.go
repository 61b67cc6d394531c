package internal

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
)

// Publisher emits committed payment records to the audit stream.
type Publisher interface {
	Publish(ctx context.Context, record PaymentRecord) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, PaymentRecord) error { return nil }
func (NoopPublisher) Close() error                                 { return nil }

// MessageWriter is the subset of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		RequiredAcks: kafka.RequireOne,
	})
}

func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, record PaymentRecord) error {
	raw, err := sonic.Marshal(record)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.Id),
		Value: raw,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
