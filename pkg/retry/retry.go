// Package retry provides the shared backoff helper used for classifier,
// forwarder, and sink calls.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy parameterizes exponential backoff with jitter.
type Policy struct {
	MaxAttempts int           // total attempts including the first (default: 3)
	BaseDelay   time.Duration // delay before the second attempt (default: 500ms)
	Factor      float64       // backoff multiplier (default: 2)
	Jitter      float64       // fraction of the delay randomized both ways (default: 0.2)
}

// DefaultPolicy returns the gateway-wide forward retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		Jitter:      0.2,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0.2
	}
	return p
}

// Delay returns the backoff delay preceding the given attempt (1-based;
// attempt 1 has no delay).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt <= 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 2; i < attempt; i++ {
		d *= p.Factor
	}
	if p.Jitter > 0 {
		// Spread across [d*(1-j), d*(1+j)].
		d *= 1 - p.Jitter + 2*p.Jitter*rand.Float64()
	}
	return time.Duration(d)
}

// Retryable lets callers mark errors that should not be retried.
type Retryable interface {
	Transient() bool
}

// Do runs fn up to MaxAttempts times, sleeping between attempts and
// honoring context cancellation. A permanent error (Retryable reporting
// false) stops immediately. Returns the last error on exhaustion.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if d := p.Delay(attempt); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var r Retryable
		if errors.As(lastErr, &r) && !r.Transient() {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
