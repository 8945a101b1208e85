package llm

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"ai-market-analyst/internal/shared"

	"golang.org/x/time/rate"
)

const (
	// rateSafetyMargin keeps the sustained rate below the provider's nominal RPM.
	rateSafetyMargin = 0.8
	minBurst         = 5
)

// RateLimiter is the token bucket every outbound model and embedding call
// passes through. One instance is shared by all agents of a process.
type RateLimiter struct {
	limiter  *rate.Limiter
	rpm      int
	capacity int
	acquired atomic.Int64
}

// NewRateLimiter converts a requests-per-minute budget into a sustained rate
// of 80% of nominal with a burst of max(5, 10% of rpm). The bucket starts full.
func NewRateLimiter(rpm int) (*RateLimiter, error) {
	if rpm <= 0 {
		return nil, shared.Fatalf("requests per minute must be positive, got %d", rpm)
	}
	capacity := max(minBurst, rpm/10)
	perSecond := float64(rpm) * rateSafetyMargin / 60.0
	return &RateLimiter{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), capacity),
		rpm:      rpm,
		capacity: capacity,
	}, nil
}

// Acquire blocks until one unit of budget is available and debits it.
// Reservation and debit happen atomically inside the limiter, and waiters are
// served in reservation order. It only fails when ctx ends first.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	r.acquired.Add(1)
	return nil
}

// Available reports the tokens currently in the bucket, clamped to
// [0, capacity]. Outstanding reservations are debt and read as zero.
func (r *RateLimiter) Available() float64 {
	tokens := r.limiter.Tokens()
	return math.Max(0, math.Min(tokens, float64(r.capacity)))
}

// Capacity is the bucket size.
func (r *RateLimiter) Capacity() int { return r.capacity }

// Rate is the sustained refill rate in tokens per second.
func (r *RateLimiter) Rate() float64 { return float64(r.limiter.Limit()) }

// RPM is the nominal budget the limiter was built from.
func (r *RateLimiter) RPM() int { return r.rpm }

// Acquired counts completed acquisitions since construction.
func (r *RateLimiter) Acquired() int64 { return r.acquired.Load() }
