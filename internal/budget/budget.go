// Package budget enforces fair-use caps for demo sessions.
//
// Each session gets a fixed horizon of tokens and requests, with optional
// per-feature token sub-budgets. Usage is additive and monotonic: counters
// never decrease, and an exhausted session stays exhausted until its
// expiry, even if the configured caps change underneath it.
//
// The budget manager is independent of the tool gateway's rate limiter:
// it caps total consumption, not call frequency. Feature handlers consult
// CheckAccess before performing expensive work, because only the handler
// knows the true token cost of its operation.
package budget

import (
	"errors"
	"sync"
	"time"

	"github.com/conciergehq/concierge/internal/log"
)

// Sentinel errors checked by handlers with errors.Is.
var (
	// ErrBudgetExhausted indicates the session has no remaining tokens or
	// requests for the requested feature. Surfaced to the client as a
	// distinguishable error code so the UI can prompt for escalation.
	ErrBudgetExhausted = errors.New("demo budget exhausted")
)

// Limits are the fixed caps applied to every new session.
type Limits struct {
	TotalTokens   int
	TotalRequests int

	// FeatureTokens maps a feature name to its token sub-budget. Features
	// without an entry draw only against the global cap.
	FeatureTokens map[string]int

	// Window is the session's fixed expiry horizon, measured from first
	// access.
	Window time.Duration
}

// FeatureUsage is the per-feature consumption breakdown.
type FeatureUsage struct {
	Tokens   int `json:"tokens"`
	Requests int `json:"requests"`
}

// Session tracks one demo session's consumption against the caps.
type Session struct {
	SessionID         string                  `json:"sessionId"`
	TotalTokensUsed   int                     `json:"totalTokensUsed"`
	TotalRequestsMade int                     `json:"totalRequestsMade"`
	Features          map[string]FeatureUsage `json:"features"`
	IsComplete        bool                    `json:"isComplete"`
	CreatedAt         time.Time               `json:"createdAt"`
	ExpiresAt         time.Time               `json:"expiresAt"`
}

// Remaining is the non-negative budget left for one feature.
type Remaining struct {
	Tokens        int `json:"tokens"`
	Requests      int `json:"requests"`
	FeatureTokens int `json:"featureTokens"`
}

// sweepInterval bounds how often session creation scans for expired
// entries.
const sweepInterval = 5 * time.Minute

// Manager tracks token/request consumption per session against fixed
// caps. Safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	limits    Limits
	logger    log.Logger
	lastSweep time.Time
	now       func() time.Time
}

// NewManager creates a budget manager with the given caps.
func NewManager(limits Limits, logger log.Logger) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		limits:    limits,
		logger:    logger,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// featureCap returns the token sub-budget for a feature, defaulting to the
// global cap when none is configured.
func (m *Manager) featureCap(feature string) int {
	if cap, ok := m.limits.FeatureTokens[feature]; ok {
		return cap
	}
	return m.limits.TotalTokens
}

// session returns the live session for id, creating a zeroed one on first
// access or after the previous horizon expired. Caller must hold m.mu.
func (m *Manager) session(sessionID string) *Session {
	now := m.now()

	// Amortized sweep of expired sessions; abandoned IDs are never
	// touched again, so lazy replacement alone would leak them.
	if now.Sub(m.lastSweep) > sweepInterval {
		for id, s := range m.sessions {
			if !now.Before(s.ExpiresAt) {
				delete(m.sessions, id)
			}
		}
		m.lastSweep = now
	}

	if s, ok := m.sessions[sessionID]; ok && now.Before(s.ExpiresAt) {
		return s
	}

	s := &Session{
		SessionID: sessionID,
		Features:  make(map[string]FeatureUsage),
		CreatedAt: now,
		ExpiresAt: now.Add(m.limits.Window),
	}
	m.sessions[sessionID] = s
	m.logger.Debug("demo session created", "session_id", sessionID, "expires_at", s.ExpiresAt)
	return s
}

// peek returns the live session for id without creating one. Returns nil
// when the session was never seen or its horizon expired. Caller must
// hold m.mu.
func (m *Manager) peek(sessionID string) *Session {
	s, ok := m.sessions[sessionID]
	if !ok || !m.now().Before(s.ExpiresAt) {
		return nil
	}
	return s
}

func copySession(s *Session) Session {
	cp := *s
	cp.Features = make(map[string]FeatureUsage, len(s.Features))
	for k, v := range s.Features {
		cp.Features[k] = v
	}
	return cp
}

// Session returns a copy of the session's current state, creating it on
// first access with zeroed counters and a fixed expiry horizon.
func (m *Manager) Session(sessionID string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return copySession(m.session(sessionID))
}

// Peek returns a copy of the session's state without creating it. ok is
// false when the session was never seen or its horizon expired; read-only
// surfaces use Peek so that inspection never pins an expiry horizon.
func (m *Manager) Peek(sessionID string) (s Session, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.peek(sessionID)
	if live == nil {
		return Session{}, false
	}
	return copySession(live), true
}

// CheckAccess reports whether the session may still consume the feature.
// It does not mutate state. Returns nil when both the global and the
// feature-specific remaining budgets are positive, ErrBudgetExhausted
// otherwise.
func (m *Manager) CheckAccess(sessionID, feature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	if s.TotalTokensUsed >= m.limits.TotalTokens {
		return ErrBudgetExhausted
	}
	if s.TotalRequestsMade >= m.limits.TotalRequests {
		return ErrBudgetExhausted
	}
	if s.Features[feature].Tokens >= m.featureCap(feature) {
		return ErrBudgetExhausted
	}
	return nil
}

// RecordUsage adds one request and the given token cost to the session and
// feature counters. Usage is never decremented; recording past the cap is
// allowed (the overshoot of an in-flight operation is absorbed, and the
// next CheckAccess fails).
func (m *Manager) RecordUsage(sessionID, feature string, tokens int) {
	if tokens < 0 {
		tokens = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	s.TotalTokensUsed += tokens
	s.TotalRequestsMade++

	fu := s.Features[feature]
	fu.Tokens += tokens
	fu.Requests++
	s.Features[feature] = fu

	if s.TotalTokensUsed >= m.limits.TotalTokens || s.TotalRequestsMade >= m.limits.TotalRequests {
		s.IsComplete = true
	}
}

// Remaining reports the non-negative budget left for the feature. A
// session that was never seen (or expired) has its full caps remaining;
// Remaining never creates one.
func (m *Manager) Remaining(sessionID, feature string) Remaining {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tokens, requests, featureTokens int
	if s := m.peek(sessionID); s != nil {
		tokens = s.TotalTokensUsed
		requests = s.TotalRequestsMade
		featureTokens = s.Features[feature].Tokens
	}
	return Remaining{
		Tokens:        clampNonNegative(m.limits.TotalTokens - tokens),
		Requests:      clampNonNegative(m.limits.TotalRequests - requests),
		FeatureTokens: clampNonNegative(m.featureCap(feature) - featureTokens),
	}
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
