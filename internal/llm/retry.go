package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ai-market-analyst/internal/shared"
)

const (
	// DefaultMaxAttempts bounds the number of calls made for one invocation.
	DefaultMaxAttempts = 3
	// DefaultBackoff is scaled linearly by the attempt number. Provider quota
	// windows are minute-granular.
	DefaultBackoff = 60 * time.Second
)

// RetryInvoker executes a single model call behind the shared RateLimiter and
// retries it only when the provider reports throttling.
type RetryInvoker struct {
	limiter     *RateLimiter
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// RetryOption customizes a RetryInvoker.
type RetryOption func(*RetryInvoker)

// WithMaxAttempts sets the attempt bound. Values below one are ignored.
func WithMaxAttempts(n int) RetryOption {
	return func(r *RetryInvoker) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBackoff sets the per-attempt backoff unit.
func WithBackoff(d time.Duration) RetryOption {
	return func(r *RetryInvoker) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

// NewRetryInvoker builds an invoker. A nil limiter disables rate limiting,
// which is only useful in tests.
func NewRetryInvoker(limiter *RateLimiter, opts ...RetryOption) *RetryInvoker {
	r := &RetryInvoker{
		limiter:     limiter,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxAttempts returns the configured attempt bound.
func (r *RetryInvoker) MaxAttempts() int { return r.maxAttempts }

// Do runs call until it succeeds, fails with a non-throttling error, or the
// attempts run out. Every attempt takes a rate limiter slot first.
func (r *RetryInvoker) Do(ctx context.Context, label string, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Acquire(ctx); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		if !shared.IsThrottling(err) {
			return fmt.Errorf("%s: %w", label, err)
		}
		lastErr = err
		if attempt == r.maxAttempts {
			break
		}

		wait := r.backoff * time.Duration(attempt)
		var te *shared.ThrottlingError
		if errors.As(err, &te) && te.RetryAfter > wait {
			wait = te.RetryAfter
		}
		log.Printf("[retry] %s throttled (attempt %d/%d), backing off %s", label, attempt, r.maxAttempts, wait)
		if err := r.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
	}
	return fmt.Errorf("%s: exhausted %d attempts: %w", label, r.maxAttempts, lastErr)
}

// Invoke is the typed form of Do.
func Invoke[T any](ctx context.Context, r *RetryInvoker, label string, call func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, label, func(ctx context.Context) error {
		v, err := call(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
