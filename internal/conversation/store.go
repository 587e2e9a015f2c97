package conversation

import (
	"context"
	"sync"
	"time"
)

// Store is the per-session context store contract.
//
// All operations are keyed solely by session ID; there is no cross-session
// visibility. Get on an unknown or expired key returns (nil, nil); callers
// treat the session as fresh, never as an error.
type Store interface {
	// Get returns a copy of the session's snapshot, or nil when absent
	// or expired.
	Get(ctx context.Context, sessionID string) (*Snapshot, error)

	// Put replaces the session's snapshot and refreshes its TTL.
	Put(ctx context.Context, sessionID string, snap *Snapshot) error

	// Update applies mutate to the existing snapshot (or a fresh skeleton
	// when absent) and writes the result back, refreshing the TTL.
	Update(ctx context.Context, sessionID string, mutate func(*Snapshot)) error

	// Delete removes the session's snapshot. Deleting an absent session
	// is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases backend resources.
	Close() error
}

// sweepInterval is how often the in-memory store scans for expired
// entries. Lazy eviction on Get covers correctness; the sweep only bounds
// memory growth for abandoned sessions.
const sweepInterval = 5 * time.Minute

type memoryEntry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// MemoryStore is a mutex-guarded in-memory Store with TTL eviction.
// Suitable for a single process; see BadgerStore for the persistent
// variant.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time

	done chan struct{}
	once sync.Once
}

// NewMemoryStore creates an in-memory store whose entries expire ttl after
// their last write.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for id, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Get implements Store. Expired entries are evicted lazily and reported
// as absent.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return nil, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, sessionID)
		return nil, nil
	}
	return e.snap.Clone(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, sessionID string, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[sessionID] = memoryEntry{
		snap:      snap.Clone(),
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Update implements Store. The read-modify-write happens under the store
// lock, so two concurrent Updates for the same session cannot lose writes.
func (s *MemoryStore) Update(_ context.Context, sessionID string, mutate func(*Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var snap *Snapshot
	if e, ok := s.entries[sessionID]; ok && !now.After(e.expiresAt) {
		snap = e.snap.Clone()
	} else {
		snap = NewSnapshot(now)
	}

	mutate(snap)
	snap.UpdatedAt = now

	s.entries[sessionID] = memoryEntry{
		snap:      snap,
		expiresAt: now.Add(s.ttl),
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

// Close stops the background sweeper. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Len reports the number of live entries. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
