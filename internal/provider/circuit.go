package provider

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen rejects calls while the provider is cooling down.
var ErrCircuitOpen = errors.New("provider circuit open")

// CircuitState is the externally visible breaker state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes the breaker. Zero-valued fields fall back
// to the defaults in parentheses.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before tripping (5)
	SuccessThreshold int           // probe successes required to close again (2)
	Timeout          time.Duration // cooldown before probing resumes (30s)
}

func (cfg CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}

// CircuitBreaker shields the upstream provider from hammering while it
// is failing. Enough consecutive failures trip it; calls are rejected
// until the cooldown elapses, then let through as probes. Probes that
// keep succeeding close the breaker, a probe failure re-trips it.
//
// State is not stored as an enum: the breaker is open while trippedAt is
// set and the cooldown has not elapsed, probing after Allow observes the
// elapsed cooldown, and closed otherwise.
type CircuitBreaker struct {
	mu sync.Mutex

	failures  int       // consecutive failures while closed
	probesOK  int       // probe successes since cooldown elapsed
	probing   bool      // cooldown elapsed, probes in flight
	trippedAt time.Time // zero unless tripped

	cfg CircuitBreakerConfig
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// Allow reports whether a call may proceed. The first Allow after the
// cooldown switches the breaker into probing.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.trippedAt.IsZero() {
		return nil
	}
	if cb.now().Sub(cb.trippedAt) < cb.cfg.Timeout {
		return ErrCircuitOpen
	}

	cb.trippedAt = time.Time{}
	cb.probing = true
	cb.probesOK = 0
	return nil
}

// Success records a successful call.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.probing {
		cb.probesOK++
		if cb.probesOK >= cb.cfg.SuccessThreshold {
			cb.probing = false
		}
	}
}

// Failure records a failed call. A failure during probing re-trips the
// breaker immediately; otherwise the consecutive-failure count decides.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.probing {
		cb.probing = false
		cb.failures = 0
		cb.trippedAt = cb.now()
		return
	}

	cb.failures++
	if cb.failures >= cb.cfg.FailureThreshold {
		cb.failures = 0
		cb.trippedAt = cb.now()
	}
}

// State derives the current state for logging and introspection.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case cb.probing:
		return CircuitHalfOpen
	case cb.trippedAt.IsZero():
		return CircuitClosed
	case cb.now().Sub(cb.trippedAt) < cb.cfg.Timeout:
		return CircuitOpen
	default:
		// Cooldown elapsed; the next Allow starts probing.
		return CircuitHalfOpen
	}
}
