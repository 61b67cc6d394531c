package internal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	PaymentRetryQueue     = "queue:payments"
	BackoffTimeEmptyQueue = 1 * time.Second
	RetryDelay            = 1 * time.Second
	QueueLengthTicker     = 5 * time.Second
	MaxResubmissions      = 3
)

var ErrQueueEmpty = errors.New("queue is empty")

// QueuedPayment is a Failed request waiting to be resubmitted. Resubmissions
// counts the attempt chains already run for it after the first one.
type QueuedPayment struct {
	PaymentRequest
	Resubmissions int `json:"resubmissions"`
}

// FailedPaymentQueue receives requests whose attempt chain ended Failed.
type FailedPaymentQueue interface {
	Enqueue(ctx context.Context, item QueuedPayment) error
}

type RetrySource interface {
	FailedPaymentQueue
	Dequeue(ctx context.Context) (QueuedPayment, error)
	Len(ctx context.Context) (int64, error)
}

type RedisRetryQueue struct {
	db  *redis.Client
	key string
}

func NewRedisRetryQueue(db *redis.Client) *RedisRetryQueue {
	return &RedisRetryQueue{
		db:  db,
		key: PaymentRetryQueue,
	}
}

func (q *RedisRetryQueue) Enqueue(ctx context.Context, item QueuedPayment) error {
	raw, err := sonic.ConfigFastest.Marshal(item)
	if err != nil {
		return err
	}
	return q.db.LPush(ctx, q.key, raw).Err()
}

func (q *RedisRetryQueue) Dequeue(ctx context.Context) (QueuedPayment, error) {
	raw, err := q.db.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return QueuedPayment{}, ErrQueueEmpty
	}
	if err != nil {
		return QueuedPayment{}, err
	}

	var item QueuedPayment
	if err := sonic.ConfigFastest.Unmarshal(raw, &item); err != nil {
		slog.Info("failed to unmarshal the payment", "error", err, "raw", string(raw))
		return QueuedPayment{}, err
	}
	return item, nil
}

func (q *RedisRetryQueue) Len(ctx context.Context) (int64, error) {
	return q.db.LLen(ctx, q.key).Result()
}

// RetryWorker resubmits failed payments with their original correlationId,
// so a success upgrades the Failed record in the ledger. A payment is
// resubmitted at most MaxResubmissions times.
type RetryWorker struct {
	source   RetrySource
	executor *PaymentExecutor
	workers  int
	delay    time.Duration
	backoff  time.Duration
}

func NewRetryWorker(source RetrySource, executor *PaymentExecutor, workers int) *RetryWorker {
	return &RetryWorker{
		source:   source,
		executor: executor,
		workers:  workers,
		delay:    RetryDelay,
		backoff:  BackoffTimeEmptyQueue,
	}
}

func (w *RetryWorker) StartWorkers(ctx context.Context) {
	for range w.workers {
		go w.run(ctx)
	}

	go func() {
		ticker := time.NewTicker(QueueLengthTicker)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := w.source.Len(ctx)
				if err != nil {
					slog.Error("failed to get the length of the queue", "err", err)
					continue
				}
				slog.Info("length of the queue", "length", n)
			}
		}
	}()
}

func (w *RetryWorker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !w.processOne(ctx) {
			sleep(ctx, w.backoff)
		}
	}
}

// processOne handles a single queued payment and reports whether one was
// available.
func (w *RetryWorker) processOne(ctx context.Context) bool {
	item, err := w.source.Dequeue(ctx)
	if err != nil {
		if !errors.Is(err, ErrQueueEmpty) {
			slog.Debug("failed to pop the payment from the queue", "error", err)
		}
		return false
	}

	sleep(ctx, w.delay)

	record, err := w.executor.Resubmit(ctx, item)
	if err != nil {
		slog.Error("failed to resubmit payment", "correlationId", item.CorrelationId, "err", err)
		next := QueuedPayment{PaymentRequest: item.PaymentRequest, Resubmissions: item.Resubmissions + 1}
		if next.Resubmissions >= MaxResubmissions {
			slog.Warn("dropping payment after resubmissions", "correlationId", item.CorrelationId, "resubmissions", next.Resubmissions)
			return true
		}
		if err := w.source.Enqueue(ctx, next); err != nil {
			slog.Error("failed to requeue payment", "correlationId", item.CorrelationId, "err", err)
		}
		return true
	}
	slog.Debug("resubmitted payment", "correlationId", record.Id, "status", record.Status, "resubmissions", item.Resubmissions+1)
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
