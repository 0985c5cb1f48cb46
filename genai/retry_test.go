// ABOUTME: Tests for the retry policy.
// ABOUTME: Covers backoff growth, jitter bounds, retryability gating, and Retry-After hints.

package genai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDelayExponentialGrowth(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second}, // capped
		{9, time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayZeroMaxDelayIsUncapped(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Millisecond},
		{1, 2 * time.Millisecond},
		{2, 4 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	for i := 0; i < 100; i++ {
		d := p.Delay(1) // 200ms before jitter
		if d < 0 || d > 200*time.Millisecond {
			t.Fatalf("jittered delay %v outside [0, 200ms]", d)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}

	serverErr := ErrorFromStatusCode(500, "oops", "test", "", nil, nil)
	badRequest := ErrorFromStatusCode(400, "nope", "test", "", nil, nil)

	if p.ShouldRetry(nil, 0) {
		t.Error("ShouldRetry(nil) = true")
	}
	if !p.ShouldRetry(serverErr, 0) {
		t.Error("ShouldRetry(500, attempt 0) = false")
	}
	if !p.ShouldRetry(serverErr, 1) {
		t.Error("ShouldRetry(500, attempt 1) = false")
	}
	if p.ShouldRetry(serverErr, 2) {
		t.Error("ShouldRetry(500, attempt 2) = true, want false after MaxRetries")
	}
	if p.ShouldRetry(badRequest, 0) {
		t.Error("ShouldRetry(400) = true")
	}
	if p.ShouldRetry(errors.New("plain"), 0) {
		t.Error("ShouldRetry(plain error) = true")
	}
	if !p.ShouldRetry(fmt.Errorf("call failed: %w", serverErr), 0) {
		t.Error("ShouldRetry(wrapped 500) = false")
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := Retry(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return ErrorFromStatusCode(503, "unavailable", "test", "", nil, nil)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := Retry(context.Background(), p, func() error {
		calls++
		return ErrorFromStatusCode(400, "bad request", "test", "", nil, nil)
	})

	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("Retry() error = %v, want InvalidRequestError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryExhaustsPolicy(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := Retry(context.Background(), p, func() error {
		calls++
		return ErrorFromStatusCode(500, "oops", "test", "", nil, nil)
	})

	if err == nil {
		t.Fatal("Retry() error = nil after exhausting retries")
	}
	if calls != 3 { // initial + 2 retries
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryHonorsCancelledContext(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour} // delay long enough to never elapse

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, p, func() error {
		calls++
		return ErrorFromStatusCode(500, "oops", "test", "", nil, nil)
	})

	if err == nil {
		t.Fatal("Retry() error = nil")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryInvokesOnRetry(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	p := RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Multiplier: 1.0,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		},
	}

	_ = Retry(context.Background(), p, func() error {
		return ErrorFromStatusCode(500, "oops", "test", "", nil, nil)
	})

	if len(attempts) != 2 || attempts[0] != 0 || attempts[1] != 1 {
		t.Errorf("OnRetry attempts = %v, want [0 1]", attempts)
	}
	for i, d := range delays {
		if d <= 0 {
			t.Errorf("OnRetry delay %d = %v, want > 0", i, d)
		}
	}
}

func TestApplyRetryAfter(t *testing.T) {
	computed := 50 * time.Millisecond

	// No hint: computed delay stands.
	plain := ErrorFromStatusCode(500, "oops", "test", "", nil, nil)
	if got := applyRetryAfter(plain, computed); got != computed {
		t.Errorf("no hint: delay = %v, want %v", got, computed)
	}

	// Hint above the computed delay wins.
	slow := ErrorFromStatusCode(429, "slow down", "test", "", nil, Float64Ptr(2.0))
	if got := applyRetryAfter(slow, computed); got != 2*time.Second {
		t.Errorf("large hint: delay = %v, want 2s", got)
	}

	// Hint below the computed delay is ignored.
	fast := ErrorFromStatusCode(429, "slow down", "test", "", nil, Float64Ptr(0.001))
	if got := applyRetryAfter(fast, computed); got != computed {
		t.Errorf("small hint: delay = %v, want %v", got, computed)
	}
}
