package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"rinha-router-2025/pkg/utils"

	"github.com/cespare/xxhash/v2"
)

const ledgerLockStripes = 256

// Ledger persists payment outcomes, at most one record per id. Writes for
// the same id are serialized; writes for different ids hash to independent
// stripes and may run concurrently.
type Ledger struct {
	store  PaymentStore
	events Publisher
	locks  [ledgerLockStripes]sync.Mutex
}

func NewLedger(store PaymentStore, events Publisher) *Ledger {
	if events == nil {
		events = NoopPublisher{}
	}

	return &Ledger{
		store:  store,
		events: events,
	}
}

func (l *Ledger) lockFor(id string) *sync.Mutex {
	return &l.locks[xxhash.Sum64String(id)%ledgerLockStripes]
}

// Record stores entry unless a record with the same id exists. The only
// overwrite allowed is Failed -> Processed. It returns the record that is
// stored once the call completes.
func (l *Ledger) Record(ctx context.Context, entry PaymentRecord) (PaymentRecord, error) {
	mu := l.lockFor(entry.Id)
	mu.Lock()
	defer mu.Unlock()

	existing, err := l.store.Get(ctx, entry.Id)
	switch {
	case err == nil:
		if existing.Status != PaymentFailed || entry.Status != PaymentProcessed {
			slog.Debug("payment already recorded", "id", entry.Id, "status", existing.Status)
			return existing, nil
		}
		slog.Info("upgrading failed payment", "id", entry.Id, "processor", entry.Processor)
	case errors.Is(err, ErrPaymentNotFound):
	default:
		return PaymentRecord{}, fmt.Errorf("failed to read payment %s: %w", entry.Id, err)
	}

	if err := l.store.Put(ctx, entry); err != nil {
		return PaymentRecord{}, fmt.Errorf("failed to record payment %s: %w", entry.Id, err)
	}

	if err := l.events.Publish(ctx, entry); err != nil {
		slog.Warn("failed to publish payment event", "id", entry.Id, "err", err)
	}

	return entry, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (PaymentRecord, error) {
	return l.store.Get(ctx, id)
}

func (l *Ledger) Summary(ctx context.Context, filter SummaryFilter) (SummaryResponse, error) {
	records, err := l.store.ScanAll(ctx)
	if err != nil {
		return SummaryResponse{}, err
	}

	var summary SummaryResponse
	for _, record := range records {
		if !filter.IsZero() && !utils.IsWithInRange(record.Timestamp, filter.From, filter.To) {
			continue
		}

		if record.Status != PaymentProcessed {
			summary.Failed.add(record.Amount)
			continue
		}

		switch record.Processor {
		case UpstreamDefault:
			summary.DefaultSummary.add(record.Amount)
		case UpstreamFallback:
			summary.FallbackSummary.add(record.Amount)
		default:
			slog.Warn("payment with unknown processor", "id", record.Id, "processor", record.Processor)
			continue
		}
		summary.Total.add(record.Amount)
	}

	return summary, nil
}

func (l *Ledger) Purge(ctx context.Context) error {
	return l.store.Purge(ctx)
}
