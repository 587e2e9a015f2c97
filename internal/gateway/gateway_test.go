package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/conversation"
	"github.com/conciergehq/concierge/internal/log"
)

// countingHandler is a test double recording how often Run executes.
type countingHandler struct {
	name  string
	calls atomic.Int64
	run   func(ctx context.Context, sessionID string, input json.RawMessage) (any, error)
}

func (h *countingHandler) Name() string    { return h.name }
func (h *countingHandler) Feature() string { return h.name }

func (h *countingHandler) Run(ctx context.Context, sessionID string, input json.RawMessage) (any, error) {
	h.calls.Add(1)
	if h.run != nil {
		return h.run(ctx, sessionID, input)
	}
	return map[string]int{"value": 42}, nil
}

func newTestGateway(t *testing.T, max int, window time.Duration) (*Gateway, *conversation.MemoryStore) {
	t.Helper()
	store := conversation.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	gw, err := New(Config{
		Limiter: NewRateLimiter(max, window),
		Cache:   NewIdempotencyCache(5 * time.Minute),
		Store:   store,
		Logger:  log.NewNop(),
	})
	require.NoError(t, err)
	return gw, store
}

func TestExecute_Success(t *testing.T) {
	gw, _ := newTestGateway(t, 10, time.Second)
	h := &countingHandler{name: "calc"}

	out := gw.Execute(context.Background(), h, "s1", "", json.RawMessage(`{}`))

	assert.Equal(t, http.StatusOK, out.Status)
	assert.JSONEq(t, `{"ok":true,"output":{"value":42}}`, string(out.Body))
	assert.False(t, out.Replayed)
}

func TestExecute_IdempotentReplay(t *testing.T) {
	gw, _ := newTestGateway(t, 10, time.Second)
	avg := &countingHandler{
		name: "calc",
		run: func(context.Context, string, json.RawMessage) (any, error) {
			return 2, nil
		},
	}
	input := json.RawMessage(`{"values":[1,2,3],"op":"avg"}`)

	first := gw.Execute(context.Background(), avg, "s1", "k1", input)
	second := gw.Execute(context.Background(), avg, "s1", "k1", input)

	assert.Equal(t, http.StatusOK, first.Status)
	assert.JSONEq(t, `{"ok":true,"output":2}`, string(first.Body))
	assert.Equal(t, string(first.Body), string(second.Body), "replay must be byte-identical")
	assert.True(t, second.Replayed)
	assert.EqualValues(t, 1, avg.calls.Load(), "handler must execute at most once per (session, key)")
}

func TestExecute_NoIdempotencyWithoutSessionOrKey(t *testing.T) {
	gw, _ := newTestGateway(t, 10, time.Second)
	h := &countingHandler{name: "calc"}
	ctx := context.Background()

	gw.Execute(ctx, h, "", "k1", json.RawMessage(`{}`)) // no session
	gw.Execute(ctx, h, "", "k1", json.RawMessage(`{}`))
	gw.Execute(ctx, h, "s1", "", json.RawMessage(`{}`)) // no key
	gw.Execute(ctx, h, "s1", "", json.RawMessage(`{}`))

	assert.EqualValues(t, 4, h.calls.Load(), "cache only applies with both session and key")
}

func TestExecute_RateLimited(t *testing.T) {
	gw, _ := newTestGateway(t, 3, time.Second)
	h := &countingHandler{name: "calc"}
	ctx := context.Background()

	var last Outcome
	for range 4 {
		last = gw.Execute(ctx, h, "s1", "", json.RawMessage(`{}`))
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Status)
	assert.JSONEq(t, `{"ok":false,"error":"Rate limit exceeded"}`, string(last.Body))
	assert.Positive(t, last.RetryAfter)
	assert.EqualValues(t, 3, h.calls.Load(), "the rejected call must not reach the handler")
}

func TestExecute_RateLimitBeforeIdempotency(t *testing.T) {
	gw, _ := newTestGateway(t, 1, time.Second)
	h := &countingHandler{name: "calc"}
	ctx := context.Background()

	first := gw.Execute(ctx, h, "s1", "k1", json.RawMessage(`{}`))
	require.Equal(t, http.StatusOK, first.Status)

	// Same idempotency key, but the rate limit fires first.
	second := gw.Execute(ctx, h, "s1", "k1", json.RawMessage(`{}`))
	assert.Equal(t, http.StatusTooManyRequests, second.Status)
	assert.False(t, second.Replayed)
}

func TestExecute_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", fmt.Errorf("%w: values must not be empty", ErrInvalidInput), http.StatusBadRequest},
		{"budget", fmt.Errorf("checking access: %w", budget.ErrBudgetExhausted), http.StatusForbidden},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, _ := newTestGateway(t, 10, time.Second)
			h := &countingHandler{
				name: "calc",
				run: func(context.Context, string, json.RawMessage) (any, error) {
					return nil, tt.err
				},
			}

			out := gw.Execute(context.Background(), h, "s1", "", json.RawMessage(`{}`))
			assert.Equal(t, tt.wantStatus, out.Status)

			var env struct {
				OK    bool   `json:"ok"`
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(out.Body, &env))
			assert.False(t, env.OK)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestExecute_FailuresAreCachedToo(t *testing.T) {
	gw, _ := newTestGateway(t, 10, time.Second)
	h := &countingHandler{
		name: "calc",
		run: func(context.Context, string, json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		},
	}
	ctx := context.Background()

	first := gw.Execute(ctx, h, "s1", "k1", json.RawMessage(`{}`))
	second := gw.Execute(ctx, h, "s1", "k1", json.RawMessage(`{}`))

	assert.Equal(t, first.Status, second.Status)
	assert.True(t, second.Replayed)
	assert.EqualValues(t, 1, h.calls.Load(), "a computed failure replays like any computed response")
}

func TestExecute_RecordsCapabilityOnSuccess(t *testing.T) {
	gw, store := newTestGateway(t, 10, time.Second)
	h := &countingHandler{name: "roi"}
	ctx := context.Background()

	gw.Execute(ctx, h, "s1", "", json.RawMessage(`{"email":"ada@example.com"}`))

	snap, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.Capabilities, 1)
	assert.Equal(t, "roi", snap.Capabilities[0].Name)
	assert.NotContains(t, snap.Capabilities[0].Summary, "ada@example.com",
		"emails must be redacted from capability summaries")
}

// enrichingHandler is a test double offering snapshot enrichment.
type enrichingHandler struct {
	countingHandler
}

func (h *enrichingHandler) EnrichSnapshot(output any, snap *conversation.Snapshot) {
	snap.Company = &conversation.Company{Name: "Acme", Domain: "acme.io"}
}

func TestExecute_EnrichesSnapshotOnSuccess(t *testing.T) {
	gw, store := newTestGateway(t, 10, time.Second)
	h := &enrichingHandler{countingHandler{name: "analyze"}}
	ctx := context.Background()

	gw.Execute(ctx, h, "s1", "", json.RawMessage(`{"url":"https://acme.io"}`))

	snap, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.NotNil(t, snap.Company, "successful runs must apply the handler's enrichment")
	assert.Equal(t, "Acme", snap.Company.Name)
	assert.Equal(t, "acme.io", snap.Company.Domain)
}

func TestExecute_NoEnrichmentOnFailure(t *testing.T) {
	gw, store := newTestGateway(t, 10, time.Second)
	h := &enrichingHandler{countingHandler{
		name: "analyze",
		run: func(context.Context, string, json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		},
	}}
	ctx := context.Background()

	gw.Execute(ctx, h, "s1", "", json.RawMessage(`{}`))

	snap, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	if snap != nil {
		assert.Nil(t, snap.Company)
	}
}

func TestExecute_NoCapabilityOnFailure(t *testing.T) {
	gw, store := newTestGateway(t, 10, time.Second)
	h := &countingHandler{
		name: "roi",
		run: func(context.Context, string, json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		},
	}
	ctx := context.Background()

	gw.Execute(ctx, h, "s1", "", json.RawMessage(`{}`))

	snap, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	if snap != nil {
		assert.Empty(t, snap.Capabilities)
	}
}

func TestExecute_ActivityLifecycle(t *testing.T) {
	gw, _ := newTestGateway(t, 10, time.Second)
	ctx := context.Background()

	gw.Execute(ctx, &countingHandler{name: "calc"}, "s1", "", json.RawMessage(`{}`))
	gw.Execute(ctx, &countingHandler{
		name: "roi",
		run: func(context.Context, string, json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		},
	}, "s1", "", json.RawMessage(`{}`))

	items := gw.Activity().Items("s1")
	require.Len(t, items, 2)
	assert.Equal(t, ActivityCompleted, items[0].Status)
	assert.Equal(t, ActivityFailed, items[1].Status)
	assert.Equal(t, "boom", items[1].Description)
}

func TestActivityLog_SweepsIdleSessions(t *testing.T) {
	l := NewActivityLog()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	for i := range 100 {
		l.Start(fmt.Sprintf("s%d", i), "tool", "calc")
	}

	// Sessions that ended without a Drop go idle; the next Start past
	// the retention horizon reclaims them.
	now = now.Add(activityRetention + time.Minute)
	l.Start("fresh", "tool", "calc")

	l.mu.Lock()
	n := len(l.sessions)
	l.mu.Unlock()
	assert.Equal(t, 1, n, "idle session logs must be swept")
	assert.Empty(t, l.Items("s0"))
	assert.Len(t, l.Items("fresh"), 1)
}

func TestActivityLog_CapDropsOldest(t *testing.T) {
	l := NewActivityLog()

	var firstID string
	for i := range maxActivityItems + 5 {
		id := l.Start("s1", "tool", "calc")
		if i == 0 {
			firstID = id
		}
	}

	items := l.Items("s1")
	assert.Len(t, items, maxActivityItems)
	for _, item := range items {
		assert.NotEqual(t, firstID, item.ID, "oldest item must be dropped beyond the cap")
	}
}
