package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	HealthCheckTicker  = 5 * time.Second
	HealthCheckTimeout = 1 * time.Second
)

type healthEntry struct {
	mu        sync.Mutex
	verdict   HealthVerdict
	lastProbe time.Time
}

// HealthProbe issues at most one real health request per upstream per
// interval and caches the verdict. Callers inside the window get the cached
// verdict, stale or not.
type HealthProbe struct {
	upstreams map[UpstreamID]Upstream
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time
	entries   map[UpstreamID]*healthEntry
}

func NewHealthProbe(upstreams map[UpstreamID]Upstream, interval, timeout time.Duration) *HealthProbe {
	p := &HealthProbe{
		upstreams: upstreams,
		interval:  interval,
		timeout:   timeout,
		now:       time.Now,
		entries:   make(map[UpstreamID]*healthEntry, len(Upstreams)),
	}
	for _, id := range Upstreams {
		p.entries[id] = &healthEntry{verdict: HealthVerdict{Status: HealthUnknown}}
	}

	return p
}

func (p *HealthProbe) Check(ctx context.Context, id UpstreamID) HealthVerdict {
	e := p.entries[id]

	e.mu.Lock()
	if !e.lastProbe.IsZero() && p.now().Sub(e.lastProbe) < p.interval {
		verdict := e.verdict
		e.mu.Unlock()
		return verdict
	}
	// Reserve the window before releasing the lock so concurrent callers
	// read the cache instead of probing too.
	started := p.now()
	e.lastProbe = started
	e.mu.Unlock()

	verdict := p.probe(ctx, id)

	e.mu.Lock()
	if e.lastProbe.Equal(started) {
		e.verdict = verdict
	}
	e.mu.Unlock()

	slog.Debug("updating the health check", "upstream", id, "status", verdict.Status)
	return verdict
}

// Verdict returns the cached verdict without probing.
func (p *HealthProbe) Verdict(id UpstreamID) HealthVerdict {
	e := p.entries[id]
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.verdict
}

func (p *HealthProbe) probe(ctx context.Context, id UpstreamID) HealthVerdict {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	verdict := HealthVerdict{Status: HealthUnhealthy, CheckedAt: p.now()}

	upstream, ok := p.upstreams[id]
	if !ok {
		return verdict
	}

	res, err := upstream.Health(ctx)
	if err != nil {
		slog.Debug("failed to health check", "upstream", id, "err", err)
		return verdict
	}

	minResponseTime := res.MinResponseTime
	verdict.MinResponseTime = &minResponseTime
	if !res.Failing {
		verdict.Status = HealthHealthy
	}

	return verdict
}

// EnableHealthCheck keeps the verdicts warm by checking both upstreams on
// every tick until ctx is done.
func (p *HealthProbe) EnableHealthCheck(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.checkAll(ctx)
			}
		}
	}()
}

func (p *HealthProbe) checkAll(ctx context.Context) {
	var g errgroup.Group
	for _, id := range Upstreams {
		g.Go(func() error {
			p.Check(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}
