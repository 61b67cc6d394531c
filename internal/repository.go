package internal

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

var ErrPaymentNotFound = errors.New("payment not found")

var PaymentHashMap = "payments"

// PaymentStore is the persistence contract behind the Ledger. Put inserts a
// new id and otherwise only replaces a Failed record with a Processed one;
// any other write to an existing id is dropped without error.
type PaymentStore interface {
	Put(ctx context.Context, record PaymentRecord) error
	Get(ctx context.Context, id string) (PaymentRecord, error)
	ScanAll(ctx context.Context) ([]PaymentRecord, error)
	Purge(ctx context.Context) error
}

// canReplace reports whether a stored record may be overwritten by incoming.
func canReplace(stored, incoming PaymentStatus) bool {
	return stored == PaymentFailed && incoming == PaymentProcessed
}

type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]PaymentRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]PaymentRecord),
	}
}

func (s *MemoryStore) Put(_ context.Context, record PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.payments[record.Id]; ok && !canReplace(stored.Status, record.Status) {
		return nil
	}
	s.payments[record.Id] = record
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.payments[id]
	if !ok {
		return PaymentRecord{}, ErrPaymentNotFound
	}
	return record, nil
}

func (s *MemoryStore) ScanAll(_ context.Context) ([]PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]PaymentRecord, 0, len(s.payments))
	for _, record := range s.payments {
		records = append(records, record)
	}
	return records, nil
}

func (s *MemoryStore) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payments = make(map[string]PaymentRecord)
	return nil
}

// putPaymentScript writes ARGV[2] into field ARGV[1] of hash KEYS[1] when the
// field is absent, or when it holds a failed record and ARGV[3] is processed.
var putPaymentScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], ARGV[1])
if stored then
	if ARGV[3] ~= 'processed' or not string.find(stored, '"status":"failed"', 1, true) then
		return 0
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// RedisStore keeps every record as a sonic-encoded field of one hash.
type RedisStore struct {
	db  *redis.Client
	key string
}

func NewRedisStore(db *redis.Client) *RedisStore {
	return &RedisStore{
		db:  db,
		key: PaymentHashMap,
	}
}

func (r *RedisStore) Put(ctx context.Context, record PaymentRecord) error {
	raw, err := sonic.Marshal(record)
	if err != nil {
		slog.Error("failed to marshal payment", "err", err)
		return err
	}

	err = putPaymentScript.Run(ctx, r.db, []string{r.key}, record.Id, raw, string(record.Status)).Err()
	if err != nil {
		slog.Error("failed to save payment in redis hashmap", "err", err)
		return err
	}

	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (PaymentRecord, error) {
	raw, err := r.db.HGet(ctx, r.key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return PaymentRecord{}, ErrPaymentNotFound
	}
	if err != nil {
		return PaymentRecord{}, err
	}

	var record PaymentRecord
	if err := sonic.ConfigFastest.Unmarshal(raw, &record); err != nil {
		return PaymentRecord{}, err
	}
	return record, nil
}

func (r *RedisStore) ScanAll(ctx context.Context) ([]PaymentRecord, error) {
	payments, err := r.db.HGetAll(ctx, r.key).Result()
	if err != nil {
		slog.Error("failed to get payments from redis hashmap", "err", err)
		return nil, err
	}

	records := make([]PaymentRecord, 0, len(payments))
	for _, v := range payments {
		var record PaymentRecord
		if err := sonic.ConfigFastest.UnmarshalFromString(v, &record); err != nil {
			slog.Error("failed to decode a payment", "err", err)
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *RedisStore) Purge(ctx context.Context) error {
	err := r.db.Del(ctx, r.key).Err()
	if err != nil {
		slog.Error("failed to delete payments hash", "err", err)
	}

	return err
}

// CachedStore fronts a durable store with a fast lookup cache. The durable
// store is the source of truth; cache errors are logged and ignored.
type CachedStore struct {
	durable PaymentStore
	cache   PaymentStore
}

func NewCachedStore(durable, cache PaymentStore) *CachedStore {
	return &CachedStore{
		durable: durable,
		cache:   cache,
	}
}

func (s *CachedStore) Put(ctx context.Context, record PaymentRecord) error {
	if err := s.durable.Put(ctx, record); err != nil {
		return err
	}
	if err := s.cache.Put(ctx, record); err != nil {
		slog.Warn("failed to cache payment", "id", record.Id, "err", err)
	}
	return nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (PaymentRecord, error) {
	record, err := s.cache.Get(ctx, id)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		slog.Warn("failed to read payment from cache", "id", id, "err", err)
	}

	record, err = s.durable.Get(ctx, id)
	if err != nil {
		return PaymentRecord{}, err
	}
	if err := s.cache.Put(ctx, record); err != nil {
		slog.Warn("failed to cache payment", "id", id, "err", err)
	}
	return record, nil
}

func (s *CachedStore) ScanAll(ctx context.Context) ([]PaymentRecord, error) {
	return s.durable.ScanAll(ctx)
}

func (s *CachedStore) Purge(ctx context.Context) error {
	if err := s.durable.Purge(ctx); err != nil {
		return err
	}
	return s.cache.Purge(ctx)
}
