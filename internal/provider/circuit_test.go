package provider

import (
	"errors"
	"testing"
	"time"
)

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(cfg)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	for range 2 {
		cb.Failure()
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() below threshold = %v, want nil", err)
	}

	cb.Failure()
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() after threshold = %v, want ErrCircuitOpen", err)
	}
	if cb.State() != CircuitOpen {
		t.Errorf("State() = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_SuccessBreaksTheStreak(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	cb.Failure()
	cb.Failure()
	cb.Success()
	cb.Failure()
	cb.Failure()

	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() = %v, want nil: failures must be consecutive to trip", err)
	}
}

func TestCircuitBreaker_ProbesCloseAfterCooldown(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	})

	cb.Failure()
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("breaker should reject during the cooldown")
	}

	*now = now.Add(31 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown = %v, want nil (probe)", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}

	cb.Success()
	if cb.State() != CircuitHalfOpen {
		t.Fatal("one probe success must not close the breaker yet")
	}
	cb.Success()
	if cb.State() != CircuitClosed {
		t.Errorf("State() after enough probe successes = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ProbeFailureRetrips(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
	})

	for range 5 {
		cb.Failure()
	}
	*now = now.Add(31 * time.Second)
	_ = cb.Allow() // probe begins
	cb.Failure()

	// A single probe failure re-trips regardless of the threshold.
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() after probe failure = %v, want ErrCircuitOpen", err)
	}
	if cb.State() != CircuitOpen {
		t.Errorf("State() = %v, want open", cb.State())
	}
}

func TestRetryableError_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("googleapi: Error 429: quota exceeded"), true},
		{"server error", errors.New("rpc error: code = 503 service unavailable"), true},
		{"timeout", errors.New("dial tcp: i/o timeout"), true},
		{"overloaded", errors.New("the model is overloaded"), true},
		{"invalid argument", errors.New("invalid argument: unknown model"), false},
		{"auth", errors.New("API key not valid"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(empty) = %d, want 0", got)
	}
	if got := EstimateTokens("hi"); got != 1 {
		t.Errorf("EstimateTokens(short) = %d, want at least 1", got)
	}
	if got := EstimateTokens("helloworldhell"); got != 3 {
		t.Errorf("EstimateTokens(14 chars) = %d, want 3", got)
	}
}
