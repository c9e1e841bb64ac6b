// Package retry runs an operation with bounded attempts and exponential
// backoff. Every external call in the pipeline goes through Do.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	defaultMaxAttempts = 3
	maxAllowedAttempts = 100
)

// Predicate decides whether an error is worth another attempt.
type Predicate func(error) bool

// Policy configures Do.
type Policy struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Upper bound for a single delay, 0 for none
	Jitter      time.Duration // Random jitter added to each delay

	// OnRetry is called before sleeping after a retryable failure
	OnRetry func(attempt int, err error)
}

// DefaultPolicy is three attempts starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: defaultMaxAttempts, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

func (p Policy) backoff() goretry.Backoff {
	attempts := p.MaxAttempts
	if attempts <= 0 || attempts > maxAllowedAttempts {
		attempts = defaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Nanosecond
	}

	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	if p.Jitter > 0 {
		b = goretry.WithJitter(p.Jitter, b)
	}
	return goretry.WithMaxRetries(uint64(attempts-1), b) // #nosec G115 -- bounded above
}

// Do calls op until it succeeds, returns an error rejected by retryable, the
// attempts run out, or ctx is done. The last error from op is returned.
func Do(ctx context.Context, p Policy, retryable Predicate, op func(ctx context.Context) error) error {
	attempt := 0
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || retryable == nil || !retryable(err) {
			return err
		}
		if p.OnRetry != nil && attempt < p.attempts() {
			p.OnRetry(attempt, err)
		}
		return goretry.RetryableError(err)
	})
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, retryable Predicate, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, retryable, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 || p.MaxAttempts > maxAllowedAttempts {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}
