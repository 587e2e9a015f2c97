package gateway

import (
	"sync"
	"time"
)

// anonKey is the session component used when no session ID is supplied.
// All anonymous callers share one bucket; the per-IP middleware limiter in
// the API layer compensates for fairness.
const anonKey = "anon"

// cleanupInterval bounds how often Allow scans for stale buckets.
const cleanupInterval = 5 * time.Minute

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a sliding-window request counter keyed by
// "<tool>:<sessionID|anon>".
//
// Window-expired buckets are reset to {count: 1, reset: now+window};
// live buckets increment-and-check against max. Entries are evicted
// lazily: a bucket past its reset time is treated as absent.
type RateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	max         int
	window      time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// NewRateLimiter creates a limiter allowing max calls per window for each
// (tool, session) key.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:     make(map[string]*bucket),
		max:         max,
		window:      window,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// rateKey builds the composite bucket key.
func rateKey(tool, sessionID string) string {
	if sessionID == "" {
		sessionID = anonKey
	}
	return tool + ":" + sessionID
}

// Allow records one call against the (tool, session) bucket and reports
// whether it is within the limit. When the limit is exceeded, retryAfter
// is the time until the bucket's window resets.
func (rl *RateLimiter) Allow(tool, sessionID string) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	// Inline cleanup of stale buckets, amortized across calls.
	if now.Sub(rl.lastCleanup) > cleanupInterval {
		for k, b := range rl.buckets {
			if !now.Before(b.resetAt) {
				delete(rl.buckets, k)
			}
		}
		rl.lastCleanup = now
	}

	key := rateKey(tool, sessionID)
	b, exists := rl.buckets[key]
	if !exists || !now.Before(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rl.window)}
		return true, 0
	}

	b.count++
	if b.count > rl.max {
		return false, b.resetAt.Sub(now)
	}
	return true, 0
}
