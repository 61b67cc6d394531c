package internal

import (
	"context"
	"errors"
	"slices"
)

var ErrNoUpstreamAvailable = errors.New("no upstream available")

type Router struct {
	health  *HealthProbe
	breaker *CircuitBreaker
}

func NewRouter(health *HealthProbe, breaker *CircuitBreaker) *Router {
	return &Router{
		health:  health,
		breaker: breaker,
	}
}

// Select picks the upstream for the next attempt, skipping excluding.
// Healthy beats cheap-but-uncertain, and an open circuit is never chosen.
// The chosen upstream is acquired on the breaker, so a post-cooldown trial
// goes to one caller only.
func (r *Router) Select(ctx context.Context, excluding UpstreamID) (UpstreamID, error) {
	var candidates []UpstreamID
	for _, id := range Upstreams {
		if id == excluding || r.breaker.IsOpen(id) {
			continue
		}
		candidates = append(candidates, id)
	}

	for len(candidates) > 0 {
		chosen := r.pick(ctx, candidates)
		if r.breaker.Acquire(chosen) {
			return chosen, nil
		}
		candidates = slices.DeleteFunc(candidates, func(id UpstreamID) bool { return id == chosen })
	}

	return UpstreamNone, ErrNoUpstreamAvailable
}

func (r *Router) pick(ctx context.Context, candidates []UpstreamID) UpstreamID {
	for _, id := range candidates {
		if r.health.Check(ctx, id).Status == HealthHealthy {
			return id
		}
	}

	return candidates[0]
}
