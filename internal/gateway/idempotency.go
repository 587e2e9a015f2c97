package gateway

import (
	"sync"
	"time"
)

type idemEntry struct {
	outcome   Outcome
	expiresAt time.Time
}

// IdempotencyCache is a short-TTL response cache keyed by
// "<sessionID>:<idempotencyKey>".
//
// A hit within the TTL short-circuits tool execution and returns the
// previously computed response verbatim, guaranteeing at most one
// side-effecting execution per (session, key) within the window even
// under client retries. Entries past their expiry are treated as absent.
type IdempotencyCache struct {
	mu        sync.Mutex
	entries   map[string]idemEntry
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewIdempotencyCache creates a cache whose entries live for ttl.
func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		entries:   make(map[string]idemEntry),
		ttl:       ttl,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func idemCacheKey(sessionID, idemKey string) string {
	return sessionID + ":" + idemKey
}

// Get returns the cached outcome for (session, key), if any.
func (c *IdempotencyCache) Get(sessionID, idemKey string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := idemCacheKey(sessionID, idemKey)
	e, ok := c.entries[key]
	if !ok {
		return Outcome{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return Outcome{}, false
	}
	return e.outcome, true
}

// Put stores a computed outcome for (session, key).
func (c *IdempotencyCache) Put(sessionID, idemKey string, out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	// Amortized sweep: idempotency keys are rarely repeated, so Get's
	// lazy deletion alone would let distinct keys pile up.
	if now.Sub(c.lastSweep) > cleanupInterval {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		c.lastSweep = now
	}

	c.entries[idemCacheKey(sessionID, idemKey)] = idemEntry{
		outcome:   out,
		expiresAt: now.Add(c.ttl),
	}
}
