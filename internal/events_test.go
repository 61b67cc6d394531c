package internal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
)

type fakeMessageWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeMessageWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeMessageWriter{}
	p := NewKafkaPublisherWithWriter(w)

	record := newRecord("pay-1", UpstreamFallback, PaymentProcessed, "19.90")
	if err := p.Publish(context.Background(), record); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "pay-1" {
		t.Errorf("expected the payment id as key, got %q", msg.Key)
	}

	var got PaymentRecord
	if err := sonic.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Id != "pay-1" || got.Processor != UpstreamFallback || !got.Amount.Equal(amount("19.90")) {
		t.Errorf("unexpected event: %+v", got)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("expected the writer closed, err=%v", err)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeMessageWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriter(w)

	if err := p.Publish(context.Background(), newRecord("a", UpstreamDefault, PaymentProcessed, "1")); err == nil {
		t.Error("expected the writer error")
	}
}

func TestLedger_PublishesCommittedRecords(t *testing.T) {
	w := &fakeMessageWriter{}
	l := NewLedger(NewMemoryStore(), NewKafkaPublisherWithWriter(w))
	ctx := context.Background()

	_, _ = l.Record(ctx, newRecord("a", UpstreamDefault, PaymentFailed, "1"))
	_, _ = l.Record(ctx, newRecord("a", UpstreamDefault, PaymentFailed, "1"))
	_, _ = l.Record(ctx, newRecord("a", UpstreamFallback, PaymentProcessed, "1"))

	if len(w.messages) != 2 {
		t.Errorf("expected an event per committed change, got %d", len(w.messages))
	}
}
