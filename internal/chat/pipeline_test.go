package chat

import (
	"context"
	"errors"
	"iter"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/conversation"
	"github.com/conciergehq/concierge/internal/log"
	"github.com/conciergehq/concierge/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStreamer replays a fixed chunk sequence, then an optional error.
type fakeStreamer struct {
	chunks []provider.Chunk
	err    error
}

func (f *fakeStreamer) Stream(_ context.Context, _ provider.Request) iter.Seq2[provider.Chunk, error] {
	return func(yield func(provider.Chunk, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield(provider.Chunk{}, f.err)
		}
	}
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *conversation.MemoryStore
	budget   *budget.Manager
}

func newFixture(t *testing.T, streamer provider.Streamer) *pipelineFixture {
	t.Helper()

	store := conversation.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	b := budget.NewManager(budget.Limits{
		TotalTokens:   10_000,
		TotalRequests: 100,
		Window:        time.Hour,
	}, log.NewNop())

	p, err := NewPipeline(Config{
		Streamer: streamer,
		Store:    store,
		Budget:   b,
		Logger:   log.NewNop(),
	})
	require.NoError(t, err)
	return &pipelineFixture{pipeline: p, store: store, budget: b}
}

func userRequest(content string) *Request {
	return &Request{
		Version:  Version,
		Messages: []Message{{Role: "user", Content: content}},
	}
}

func TestPipelineStreamsFragments(t *testing.T) {
	fx := newFixture(t, &fakeStreamer{chunks: []provider.Chunk{
		{Kind: provider.KindText, Text: "Hello"},
		{Kind: provider.KindText, Text: " world"},
		{Kind: provider.KindDone, TokensUsed: 42},
	}})

	rec := httptest.NewRecorder()
	err := fx.pipeline.Run(context.Background(), rec, "s1", userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"data: \"Hello\"\n\ndata: \" world\"\n\nevent: end\ndata: {}\n\n",
		rec.Body.String())

	// The done chunk's usage metadata feeds the budget, not the wire.
	sess := fx.budget.Session("s1")
	assert.Equal(t, 42, sess.TotalTokensUsed)
	assert.Equal(t, 1, sess.TotalRequestsMade)
}

func TestPipelineToolErrorIsTerminal(t *testing.T) {
	fx := newFixture(t, &fakeStreamer{chunks: []provider.Chunk{
		{Kind: provider.KindText, Text: "partial"},
		{Kind: provider.KindTool, Tool: &provider.ToolCall{Name: "lookup", Err: "lookup failed"}},
		{Kind: provider.KindText, Text: "never sent"},
	}})

	rec := httptest.NewRecorder()
	err := fx.pipeline.Run(context.Background(), rec, "s1", userRequest("hi"))
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Equal(t,
		"data: \"partial\"\n\nevent: error\ndata: {\"error\":\"lookup failed\"}\n\n",
		body)
	assert.NotContains(t, body, "event: end")
	assert.NotContains(t, body, "never sent")
}

func TestPipelineProviderErrorFrame(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unavailable", provider.ErrUnavailable, msgProviderError},
		{"circuit open", provider.ErrCircuitOpen, msgProviderError},
		{"unexpected", errors.New("nil pointer somewhere"), msgInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, &fakeStreamer{err: tt.err})
			rec := httptest.NewRecorder()
			require.NoError(t, fx.pipeline.Run(context.Background(), rec, "s1", userRequest("hi")))
			assert.Equal(t,
				"event: error\ndata: {\"error\":\""+tt.want+"\"}\n\n",
				rec.Body.String())
		})
	}
}

func TestPipelineExactlyOneTerminalFrame(t *testing.T) {
	streams := map[string]*fakeStreamer{
		"success":      {chunks: []provider.Chunk{{Kind: provider.KindText, Text: "x"}}},
		"empty":        {},
		"midway error": {chunks: []provider.Chunk{{Kind: provider.KindText, Text: "x"}}, err: provider.ErrUnavailable},
		"tool failure": {chunks: []provider.Chunk{{Kind: provider.KindTool, Tool: &provider.ToolCall{Err: "nope"}}}},
		"only done":    {chunks: []provider.Chunk{{Kind: provider.KindDone}}},
	}

	for name, streamer := range streams {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t, streamer)
			rec := httptest.NewRecorder()
			require.NoError(t, fx.pipeline.Run(context.Background(), rec, "s1", userRequest("hi")))

			terminals := strings.Count(rec.Body.String(), "event: end") +
				strings.Count(rec.Body.String(), "event: error")
			assert.Equal(t, 1, terminals, "body: %q", rec.Body.String())
		})
	}
}

func TestPipelineBudgetExhausted(t *testing.T) {
	fx := newFixture(t, &fakeStreamer{})
	for range 100 {
		fx.budget.RecordUsage("s1", FeatureChat, 1)
	}

	rec := httptest.NewRecorder()
	err := fx.pipeline.Run(context.Background(), rec, "s1", userRequest("hi"))
	require.ErrorIs(t, err, budget.ErrBudgetExhausted)
	assert.Empty(t, rec.Body.String(), "no stream bytes on budget refusal")
}

func TestPipelineSnapshotBookkeeping(t *testing.T) {
	fx := newFixture(t, &fakeStreamer{chunks: []provider.Chunk{
		{Kind: provider.KindText, Text: "Nice to meet you"},
	}})

	ctx := context.Background()
	rec := httptest.NewRecorder()
	req := userRequest("Hello, my name is Ada and I'm the CEO. How much does it cost?")
	require.NoError(t, fx.pipeline.Run(ctx, rec, "s1", req))

	snap, err := fx.store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "Ada", snap.Lead.Name)
	assert.Equal(t, IntentPricing, snap.Intent.Type)
	assert.Equal(t, "founder", snap.Role)
	assert.InDelta(t, 0.9, snap.RoleConfidence, 1e-9)
	// greeting has no prerequisites, so one turn advances one stage
	assert.Equal(t, conversation.StageNameCollection, snap.Stage)
}

func TestPipelineStageHeldByMissingLeadFields(t *testing.T) {
	fx := newFixture(t, &fakeStreamer{chunks: []provider.Chunk{
		{Kind: provider.KindText, Text: "ok"},
	}})

	ctx := context.Background()
	snap := conversation.NewSnapshot(time.Now().UTC())
	snap.Stage = conversation.StageNameCollection
	require.NoError(t, fx.store.Put(ctx, "s1", snap))

	rec := httptest.NewRecorder()
	require.NoError(t, fx.pipeline.Run(ctx, rec, "s1", userRequest("just browsing")))

	got, err := fx.store.Get(ctx, "s1")
	require.NoError(t, err)
	// email_capture requires a captured name; none was given
	assert.Equal(t, conversation.StageNameCollection, got.Stage)
}

func TestPipelineTokenEstimateFallback(t *testing.T) {
	fx := newFixture(t, &fakeStreamer{chunks: []provider.Chunk{
		{Kind: provider.KindText, Text: strings.Repeat("a", 400)},
	}})

	rec := httptest.NewRecorder()
	require.NoError(t, fx.pipeline.Run(context.Background(), rec, "s1", userRequest("hi")))

	// No usage metadata arrived; cost falls back to the length estimate.
	sess := fx.budget.Session("s1")
	assert.Equal(t, provider.EstimateTokens("hi"+strings.Repeat("a", 400)), sess.TotalTokensUsed)
}

func TestPipelineClientCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	blocking := &fakeStreamer{chunks: []provider.Chunk{
		{Kind: provider.KindText, Text: "first"},
	}, err: context.Canceled}

	fx := newFixture(t, blocking)
	cancel()

	rec := httptest.NewRecorder()
	require.NoError(t, fx.pipeline.Run(ctx, rec, "s1", userRequest("hi")))
	// Canceled client gets no error frame; there is nobody to read it.
	assert.NotContains(t, rec.Body.String(), "event: error")
}
