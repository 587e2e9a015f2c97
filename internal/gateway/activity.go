package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivityStatus is the lifecycle state of one logged action.
type ActivityStatus string

// Activity statuses.
const (
	ActivityPending    ActivityStatus = "pending"
	ActivityInProgress ActivityStatus = "in_progress"
	ActivityCompleted  ActivityStatus = "completed"
	ActivityFailed     ActivityStatus = "failed"
)

// maxActivityItems caps the per-session log; the oldest entries are
// dropped beyond it.
const maxActivityItems = 50

// activityRetention bounds how long an idle session's log survives when
// the session ends without an explicit Drop.
const activityRetention = time.Hour

// ActivityItem is a user-visible log entry for one action.
type ActivityItem struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      ActivityStatus `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ActivityLog keeps a capped, per-session list of ActivityItems for the
// session's lifetime. Safe for concurrent use.
type ActivityLog struct {
	mu        sync.Mutex
	sessions  map[string][]ActivityItem
	lastSweep time.Time
	now       func() time.Time
}

// NewActivityLog creates an empty activity log.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{
		sessions:  make(map[string][]ActivityItem),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Start appends a new in-progress item and returns its ID.
func (l *ActivityLog) Start(sessionID, itemType, title string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// Amortized sweep of sessions that went idle without an explicit
	// Drop; ended sessions would otherwise accumulate for the process
	// lifetime.
	if now.Sub(l.lastSweep) > cleanupInterval {
		for id, items := range l.sessions {
			if len(items) == 0 || now.Sub(items[len(items)-1].Timestamp) > activityRetention {
				delete(l.sessions, id)
			}
		}
		l.lastSweep = now
	}

	item := ActivityItem{
		ID:        uuid.NewString(),
		Type:      itemType,
		Status:    ActivityInProgress,
		Title:     title,
		Timestamp: now,
	}

	items := append(l.sessions[sessionID], item)
	if len(items) > maxActivityItems {
		items = items[len(items)-maxActivityItems:]
	}
	l.sessions[sessionID] = items
	return item.ID
}

// Finish moves the item to a terminal status. Unknown IDs are ignored
// (the item may have been dropped by the cap).
func (l *ActivityLog) Finish(sessionID, itemID string, status ActivityStatus, description string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.sessions[sessionID]
	for i := range items {
		if items[i].ID == itemID {
			items[i].Status = status
			items[i].Description = description
			return
		}
	}
}

// Items returns a copy of the session's activity log, newest last.
func (l *ActivityLog) Items(sessionID string) []ActivityItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.sessions[sessionID]
	out := make([]ActivityItem, len(items))
	copy(out, items)
	return out
}

// Drop removes a session's log entirely (explicit session end).
func (l *ActivityLog) Drop(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}
