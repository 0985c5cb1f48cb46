// ABOUTME: Retry with exponential backoff and full jitter for backend requests.
// ABOUTME: Respects per-error retryability and Retry-After hints carried on rate-limit responses.

package genai

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures retry behavior for backend calls.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts, not counting the initial call.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier controls exponential growth of the delay.
	Multiplier float64

	// Jitter randomizes each delay between 0 and the computed backoff.
	Jitter bool

	// OnRetry, when set, is invoked before each retry with the triggering
	// error, the zero-indexed attempt, and the delay about to be applied.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the policy used for one-shot generation:
// 2 retries, 1s base, 30s cap, 2x growth, jitter on.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay computes the backoff for the given attempt, capped at MaxDelay and
// randomized over [0, backoff] when jitter is enabled.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	// A zero MaxDelay means uncapped, not zero: a policy that only sets
	// BaseDelay must still back off.
	if p.MaxDelay > 0 && backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	delay := time.Duration(backoff)
	if p.Jitter && delay > 0 {
		delay = time.Duration(rand.Int64N(int64(delay) + 1))
	}
	return delay
}

// ShouldRetry reports whether err warrants another attempt. Errors that do
// not implement IsRetryable are never retried.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxRetries {
		return false
	}
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// Retry runs fn until it succeeds, exhausts the policy, or the context is
// cancelled. A Retry-After hint on the error raises the computed delay.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !policy.ShouldRetry(lastErr, attempt) {
			return lastErr
		}

		delay := applyRetryAfter(lastErr, policy.Delay(attempt))
		if policy.OnRetry != nil {
			policy.OnRetry(lastErr, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
}

// applyRetryAfter returns the greater of the computed delay and any
// Retry-After hint carried by the error.
func applyRetryAfter(err error, computed time.Duration) time.Duration {
	var be *BackendError
	if errors.As(err, &be) && be.RetryAfter != nil {
		hinted := time.Duration(*be.RetryAfter * float64(time.Second))
		if hinted > computed {
			return hinted
		}
	}
	return computed
}
