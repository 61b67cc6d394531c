package internal

import (
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultFailureThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
)

type breakerEntry struct {
	mu                  sync.Mutex
	consecutiveFailures int
	openedAt            time.Time
	state               BreakerState
	trialInFlight       bool
}

type BreakerSnapshot struct {
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	OpenedAt            *time.Time   `json:"openedAt,omitempty"`
	State               BreakerState `json:"state"`
	TrialInFlight       bool         `json:"trialInFlight,omitempty"`
}

// CircuitBreaker tracks consecutive charge failures per upstream.
//
// There is no half-open state: once the cooldown has elapsed a single caller
// may Acquire the upstream for a trial, while the state stays Open until the
// trial's outcome is recorded. A failed trial re-opens with a fresh openedAt.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	entries   map[UpstreamID]*breakerEntry
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	b := &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		entries:   make(map[UpstreamID]*breakerEntry, len(Upstreams)),
	}
	for _, id := range Upstreams {
		b.entries[id] = &breakerEntry{state: BreakerClosed}
	}

	return b
}

func (b *CircuitBreaker) RecordSuccess(id UpstreamID) {
	e := b.entries[id]
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == BreakerOpen {
		slog.Info("circuit closed", "upstream", id)
	}
	e.consecutiveFailures = 0
	e.openedAt = time.Time{}
	e.state = BreakerClosed
	e.trialInFlight = false
}

func (b *CircuitBreaker) RecordFailure(id UpstreamID) {
	e := b.entries[id]
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures++
	e.trialInFlight = false
	if e.consecutiveFailures >= b.threshold {
		e.state = BreakerOpen
		e.openedAt = b.now()
		slog.Warn("circuit opened", "upstream", id, "consecutiveFailures", e.consecutiveFailures)
	}
}

func (b *CircuitBreaker) IsOpen(id UpstreamID) bool {
	e := b.entries[id]
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state == BreakerOpen && (e.trialInFlight || b.now().Sub(e.openedAt) < b.cooldown)
}

// Acquire reports whether a charge may be sent to id. A closed breaker always
// admits; an open one admits exactly one trial after the cooldown, held until
// RecordSuccess or RecordFailure.
func (b *CircuitBreaker) Acquire(id UpstreamID) bool {
	e := b.entries[id]
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != BreakerOpen {
		return true
	}
	if e.trialInFlight || b.now().Sub(e.openedAt) < b.cooldown {
		return false
	}

	e.trialInFlight = true
	slog.Info("circuit trial", "upstream", id)
	return true
}

func (b *CircuitBreaker) Snapshot(id UpstreamID) BreakerSnapshot {
	e := b.entries[id]
	e.mu.Lock()
	defer e.mu.Unlock()

	s := BreakerSnapshot{
		ConsecutiveFailures: e.consecutiveFailures,
		State:               e.state,
		TrialInFlight:       e.trialInFlight,
	}
	if !e.openedAt.IsZero() {
		openedAt := e.openedAt
		s.OpenedAt = &openedAt
	}

	return s
}
