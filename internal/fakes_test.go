package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var errSimulated = errors.New("simulated upstream failure")

type fakeUpstream struct {
	mu          sync.Mutex
	health      HealthCheckResponse
	healthErr   error
	healthDelay time.Duration
	healthCalls int

	chargeErrs  []error // consumed in order; nil once exhausted
	chargeDelay time.Duration
	honorCtx    bool // chargeDelay ends early when ctx is done
	chargeCalls int
	charged     []PaymentRequestProcessor
	chargeCtxOK []bool
}

func newHealthyUpstream() *fakeUpstream {
	return &fakeUpstream{health: HealthCheckResponse{Failing: false, MinResponseTime: 5}}
}

func newFailingUpstream() *fakeUpstream {
	return &fakeUpstream{health: HealthCheckResponse{Failing: true}}
}

func (f *fakeUpstream) Health(ctx context.Context) (HealthCheckResponse, error) {
	f.mu.Lock()
	f.healthCalls++
	delay, res, err := f.healthDelay, f.health, f.healthErr
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return res, err
}

func (f *fakeUpstream) Charge(ctx context.Context, payment PaymentRequestProcessor) error {
	f.mu.Lock()
	f.chargeCalls++
	f.charged = append(f.charged, payment)
	var err error
	if len(f.chargeErrs) > 0 {
		err = f.chargeErrs[0]
		f.chargeErrs = f.chargeErrs[1:]
	}
	delay, honorCtx := f.chargeDelay, f.honorCtx
	f.mu.Unlock()

	if delay > 0 && honorCtx {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.chargeCtxOK = append(f.chargeCtxOK, false)
			f.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrUnavailableProcessor, ctx.Err())
		case <-time.After(delay):
		}
	} else if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.chargeCtxOK = append(f.chargeCtxOK, ctx.Err() == nil)
	f.mu.Unlock()

	return err
}

func (f *fakeUpstream) failCharges(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.chargeErrs = append(f.chargeErrs, errSimulated)
	}
}

func (f *fakeUpstream) setHealth(res HealthCheckResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = res
	f.healthErr = err
}

func (f *fakeUpstream) calls() (health, charge int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthCalls, f.chargeCalls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []PaymentRecord
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, record PaymentRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, record)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) records() []PaymentRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaymentRecord(nil), p.published...)
}

type fakeRetryQueue struct {
	mu    sync.Mutex
	items []QueuedPayment
}

func (q *fakeRetryQueue) Enqueue(_ context.Context, item QueuedPayment) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeRetryQueue) Dequeue(_ context.Context) (QueuedPayment, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueuedPayment{}, ErrQueueEmpty
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

func (q *fakeRetryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// failingStore fails every operation, simulating an unreachable backend.
type failingStore struct{}

func (failingStore) Put(context.Context, PaymentRecord) error { return errSimulated }
func (failingStore) Get(context.Context, string) (PaymentRecord, error) {
	return PaymentRecord{}, errSimulated
}
func (failingStore) ScanAll(context.Context) ([]PaymentRecord, error) { return nil, errSimulated }
func (failingStore) Purge(context.Context) error                      { return errSimulated }

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEngine struct {
	*Engine
	def      *fakeUpstream
	fallback *fakeUpstream
	store    *MemoryStore
	clock    *fakeClock
}

func newTestEngine(def, fallback *fakeUpstream) *testEngine {
	cfg := Config{
		HealthCheckInterval:     HealthCheckTicker,
		HealthCheckTimeout:      HealthCheckTimeout,
		ChargeTimeout:           ChargeTimeout,
		BreakerFailureThreshold: DefaultFailureThreshold,
		BreakerCooldown:         DefaultBreakerCooldown,
	}
	store := NewMemoryStore()
	clock := newFakeClock()

	engine := NewEngine(cfg, map[UpstreamID]Upstream{
		UpstreamDefault:  def,
		UpstreamFallback: fallback,
	}, store, nil)
	engine.Health.now = clock.Now
	engine.Breaker.now = clock.Now
	engine.Executor.now = clock.Now

	return &testEngine{
		Engine:   engine,
		def:      def,
		fallback: fallback,
		store:    store,
		clock:    clock,
	}
}

func (e *testEngine) openBreaker(id UpstreamID) {
	for i := 0; i < DefaultFailureThreshold; i++ {
		e.Breaker.RecordFailure(id)
	}
}
