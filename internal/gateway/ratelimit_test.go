package gateway

import (
	"testing"
	"time"
)

func newTestLimiter(max int, window time.Duration) (*RateLimiter, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(max, window)
	rl.now = func() time.Time { return now }
	rl.lastCleanup = now
	return rl, &now
}

func TestRateLimiter_ExactlyOneRejectionPastMax(t *testing.T) {
	rl, _ := newTestLimiter(3, time.Second)

	rejections := 0
	for range 4 {
		if ok, _ := rl.Allow("calc", "s1"); !ok {
			rejections++
		}
	}
	if rejections != 1 {
		t.Errorf("4 calls with max=3 produced %d rejections, want exactly 1", rejections)
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl, now := newTestLimiter(3, time.Second)

	for range 3 {
		rl.Allow("calc", "s1")
	}
	if ok, _ := rl.Allow("calc", "s1"); ok {
		t.Fatal("4th call within the window must be rejected")
	}

	*now = now.Add(time.Second)
	if ok, _ := rl.Allow("calc", "s1"); !ok {
		t.Error("call after window elapse must succeed with a fresh bucket")
	}
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	rl, now := newTestLimiter(1, time.Second)

	rl.Allow("roi", "s1")
	*now = now.Add(300 * time.Millisecond)

	ok, retryAfter := rl.Allow("roi", "s1")
	if ok {
		t.Fatal("2nd call must be rejected")
	}
	if retryAfter != 700*time.Millisecond {
		t.Errorf("retryAfter = %v, want 700ms", retryAfter)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Second)

	rl.Allow("calc", "s1")

	if ok, _ := rl.Allow("calc", "s2"); !ok {
		t.Error("a different session must have its own bucket")
	}
	if ok, _ := rl.Allow("roi", "s1"); !ok {
		t.Error("a different tool must have its own bucket")
	}
}

func TestRateLimiter_AnonymousCallersShareBucket(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Second)

	rl.Allow("calc", "")
	if ok, _ := rl.Allow("calc", ""); ok {
		t.Error("anonymous callers share the anon bucket and must be throttled together")
	}
}

func TestRateLimiter_StaleBucketsCleaned(t *testing.T) {
	rl, now := newTestLimiter(3, time.Second)

	rl.Allow("calc", "s1")
	rl.Allow("calc", "s2")

	*now = now.Add(cleanupInterval + time.Minute)
	rl.Allow("calc", "s3")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.buckets) != 1 {
		t.Errorf("expected stale buckets evicted, have %d", len(rl.buckets))
	}
}
