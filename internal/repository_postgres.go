package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const createPaymentsTable = `CREATE TABLE IF NOT EXISTS payments (
	id          TEXT PRIMARY KEY,
	amount      NUMERIC NOT NULL,
	status      TEXT NOT NULL,
	processor   TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	description TEXT
)`

// upsertPayment inserts a new id or upgrades a failed row to processed. Every
// other conflict leaves the stored row untouched.
const upsertPayment = `INSERT INTO payments (id, amount, status, processor, timestamp, description)
VALUES ($1, $2::numeric, $3, $4, $5, NULLIF($6, ''))
ON CONFLICT (id) DO UPDATE SET
	amount = EXCLUDED.amount,
	status = EXCLUDED.status,
	processor = EXCLUDED.processor,
	timestamp = EXCLUDED.timestamp,
	description = EXCLUDED.description
WHERE payments.status = 'failed' AND EXCLUDED.status = 'processed'`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the payments table, retrying while the database
// comes up.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	var err error
	for i := 0; i < 5; i++ {
		if _, err = s.pool.Exec(ctx, createPaymentsTable); err == nil {
			return nil
		}
		slog.Warn("could not ensure payments table", "attempt", i+1, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return fmt.Errorf("failed to create payments table: %w", err)
}

func (s *PostgresStore) Put(ctx context.Context, record PaymentRecord) error {
	_, err := s.pool.Exec(ctx, upsertPayment,
		record.Id,
		record.Amount.String(),
		string(record.Status),
		string(record.Processor),
		record.Timestamp.UTC(),
		record.Description,
	)
	if err != nil {
		slog.Error("failed to save payment in postgres", "id", record.Id, "err", err)
	}
	return err
}

const selectPayment = `SELECT id, amount::text, status, processor, timestamp, COALESCE(description, '') FROM payments`

func (s *PostgresStore) Get(ctx context.Context, id string) (PaymentRecord, error) {
	record, err := scanPayment(s.pool.QueryRow(ctx, selectPayment+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentRecord{}, ErrPaymentNotFound
	}
	return record, err
}

func (s *PostgresStore) ScanAll(ctx context.Context) ([]PaymentRecord, error) {
	rows, err := s.pool.Query(ctx, selectPayment)
	if err != nil {
		slog.Error("failed to scan payments in postgres", "err", err)
		return nil, err
	}
	defer rows.Close()

	var records []PaymentRecord
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Purge(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE payments`)
	return err
}

func scanPayment(row pgx.Row) (PaymentRecord, error) {
	var (
		record    PaymentRecord
		amount    string
		status    string
		processor string
	)
	if err := row.Scan(&record.Id, &amount, &status, &processor, &record.Timestamp, &record.Description); err != nil {
		return PaymentRecord{}, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("payment %s has invalid amount %q: %w", record.Id, amount, err)
	}
	record.Amount = parsed
	record.Status = PaymentStatus(status)
	record.Processor = UpstreamID(processor)
	record.Timestamp = record.Timestamp.UTC()

	return record, nil
}
