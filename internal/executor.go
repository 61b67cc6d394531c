package internal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	MaxChargeAttempts = 2
	ChargeTimeout     = 2 * time.Second
)

type PaymentExecutor struct {
	router        *Router
	breaker       *CircuitBreaker
	upstreams     map[UpstreamID]Upstream
	ledger        *Ledger
	retryQueue    FailedPaymentQueue
	chargeTimeout time.Duration
	now           func() time.Time

	// Concurrent submissions of one correlationId share a single attempt chain.
	inflight singleflight.Group
}

func NewPaymentExecutor(
	router *Router,
	breaker *CircuitBreaker,
	upstreams map[UpstreamID]Upstream,
	ledger *Ledger,
	chargeTimeout time.Duration,
) *PaymentExecutor {
	return &PaymentExecutor{
		router:        router,
		breaker:       breaker,
		upstreams:     upstreams,
		ledger:        ledger,
		chargeTimeout: chargeTimeout,
		now:           time.Now,
	}
}

// WithRetryQueue makes every Failed outcome enqueue its request for a
// later resubmission.
func (e *PaymentExecutor) WithRetryQueue(q FailedPaymentQueue) *PaymentExecutor {
	e.retryQueue = q
	return e
}

// attemptResult is the tagged outcome of the bounded attempt loop.
type attemptResult struct {
	processor UpstreamID
	processed bool
	attempts  int
}

// Execute runs the attempt chain for one payment and records the outcome.
// The chain is detached from ctx cancellation: once accepted, a payment is
// always attempted and recorded. The only error is a ledger failure.
func (e *PaymentExecutor) Execute(ctx context.Context, req PaymentRequest) (PaymentRecord, error) {
	return e.run(ctx, req, 0)
}

// Resubmit runs a new attempt chain for a queued Failed payment.
func (e *PaymentExecutor) Resubmit(ctx context.Context, item QueuedPayment) (PaymentRecord, error) {
	return e.run(ctx, item.PaymentRequest, item.Resubmissions+1)
}

func (e *PaymentExecutor) run(ctx context.Context, req PaymentRequest, resubmissions int) (PaymentRecord, error) {
	ctx = context.WithoutCancel(ctx)

	v, err, shared := e.inflight.Do(req.CorrelationId, func() (any, error) {
		return e.execute(ctx, req, resubmissions)
	})
	if shared {
		slog.Debug("joined in-flight payment", "correlationId", req.CorrelationId)
	}
	if err != nil {
		return PaymentRecord{}, err
	}

	return v.(PaymentRecord), nil
}

func (e *PaymentExecutor) execute(ctx context.Context, req PaymentRequest, resubmissions int) (PaymentRecord, error) {
	existing, err := e.ledger.Get(ctx, req.CorrelationId)
	switch {
	case err == nil && existing.Status == PaymentProcessed:
		return existing, nil
	case err != nil && !errors.Is(err, ErrPaymentNotFound):
		slog.Warn("failed to look up payment before charging", "correlationId", req.CorrelationId, "err", err)
	}

	result := e.attempt(ctx, req)

	record := PaymentRecord{
		Id:          req.CorrelationId,
		Amount:      req.Amount,
		Processor:   result.processor,
		Status:      PaymentFailed,
		Timestamp:   e.now().UTC(),
		Description: req.Description,
	}
	if result.processed {
		record.Status = PaymentProcessed
	}

	stored, err := e.ledger.Record(ctx, record)
	if err != nil {
		slog.Error("failed to record payment", "correlationId", req.CorrelationId, "err", err)
		return PaymentRecord{}, err
	}

	if stored.Status == PaymentFailed {
		slog.Warn("payment failed",
			"correlationId", req.CorrelationId,
			"processor", stored.Processor,
			"attempts", result.attempts,
			"resubmissions", resubmissions,
		)
		e.enqueueRetry(ctx, req, result, resubmissions)
	}

	return stored, nil
}

// attempt charges at most MaxChargeAttempts upstreams, re-routing away from
// the one that just failed. A Failed result names the first upstream tried,
// or Default when none was available.
func (e *PaymentExecutor) attempt(ctx context.Context, req PaymentRequest) attemptResult {
	result := attemptResult{processor: UpstreamNone}
	excluding := UpstreamNone

	for result.attempts < MaxChargeAttempts {
		chosen, err := e.router.Select(ctx, excluding)
		if err != nil {
			slog.Debug("no upstream to attempt", "correlationId", req.CorrelationId, "excluding", excluding)
			break
		}
		if result.processor == UpstreamNone {
			result.processor = chosen
		}

		result.attempts++
		if err := e.charge(ctx, chosen, req); err != nil {
			slog.Debug("charge failed", "correlationId", req.CorrelationId, "upstream", chosen, "err", err)
			e.breaker.RecordFailure(chosen)
			excluding = chosen
			continue
		}

		e.breaker.RecordSuccess(chosen)
		result.processor = chosen
		result.processed = true
		return result
	}

	if result.processor == UpstreamNone {
		result.processor = UpstreamDefault
	}
	return result
}

func (e *PaymentExecutor) charge(ctx context.Context, id UpstreamID, req PaymentRequest) error {
	upstream, ok := e.upstreams[id]
	if !ok {
		return ErrUnavailableProcessor
	}

	ctx, cancel := context.WithTimeout(ctx, e.chargeTimeout)
	defer cancel()

	return upstream.Charge(ctx, PaymentRequestProcessor{PaymentRequest: req})
}

// enqueueRetry queues a Failed payment for resubmission. A chain that found
// no upstream to charge is final, and so is one that used the last
// resubmission.
func (e *PaymentExecutor) enqueueRetry(ctx context.Context, req PaymentRequest, result attemptResult, resubmissions int) {
	if e.retryQueue == nil {
		return
	}
	if result.attempts == 0 {
		slog.Debug("not retrying payment, no upstream was available", "correlationId", req.CorrelationId)
		return
	}
	if resubmissions >= MaxResubmissions {
		slog.Warn("giving up on payment", "correlationId", req.CorrelationId, "resubmissions", resubmissions)
		return
	}

	item := QueuedPayment{PaymentRequest: req, Resubmissions: resubmissions}
	if err := e.retryQueue.Enqueue(ctx, item); err != nil {
		slog.Error("failed to enqueue payment for retry", "correlationId", req.CorrelationId, "err", err)
	}
}
