// Package chat drives one conversational turn end to end: request
// validation, snapshot-aware prompt assembly, provider streaming, SSE
// re-encoding, and post-stream bookkeeping.
//
// Every stream the pipeline produces ends with exactly one terminal
// frame, end or error, never both and never zero. Bookkeeping after a
// successful stream (intent and role detection, budget recording, stage
// advancement) is best-effort: its failures are logged and never reach
// the client.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/conversation"
	"github.com/conciergehq/concierge/internal/log"
	"github.com/conciergehq/concierge/internal/provider"
)

var tracer = otel.Tracer("concierge/chat")

// FeatureChat is the budget feature all chat turns draw against.
const FeatureChat = "chat"

// Client-safe terminal error messages. Internal detail stays in logs.
const (
	msgProviderError = "Upstream provider error"
	msgInternalError = "Internal error"
)

// Config assembles a Pipeline.
type Config struct {
	Streamer provider.Streamer
	Store    conversation.Store
	Budget   *budget.Manager
	Logger   log.Logger
}

func (c Config) validate() error {
	if c.Streamer == nil {
		return fmt.Errorf("streamer is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Budget == nil {
		return fmt.Errorf("budget manager is required")
	}
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// Pipeline is the chat streaming pipeline. Safe for concurrent use.
type Pipeline struct {
	streamer provider.Streamer
	store    conversation.Store
	budget   *budget.Manager
	logger   log.Logger
	now      func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("chat pipeline config: %w", err)
	}
	return &Pipeline{
		streamer: cfg.Streamer,
		store:    cfg.Store,
		budget:   cfg.Budget,
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// Run streams one validated chat turn to w.
//
// The caller validates the request with ParseRequest first; Run assumes
// a well-formed request and always produces a stream. Errors after the
// first byte surface as a terminal error frame, not as a return value;
// Run returns an error only when no stream could be started at all.
func (p *Pipeline) Run(ctx context.Context, w http.ResponseWriter, sessionID string, req *Request) error {
	ctx, span := tracer.Start(ctx, "chat.stream", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("messages.count", len(req.Messages)),
	))
	defer span.End()

	if err := p.budget.CheckAccess(sessionID, FeatureChat); err != nil {
		return err
	}

	snap, err := p.loadSnapshot(ctx, sessionID)
	if err != nil {
		return err
	}

	out, err := newSSEWriter(w)
	if err != nil {
		return err
	}

	preq := buildProviderRequest(snap, req.Messages)

	var (
		reply      strings.Builder
		tokensUsed int
	)
	for chunk, serr := range p.streamer.Stream(ctx, preq) {
		if serr != nil {
			p.logger.Error("provider stream failed",
				"session_id", sessionID,
				"error", serr)
			if ctx.Err() != nil {
				// Client is gone; a terminal frame has no reader.
				return nil
			}
			_ = out.writeError(errorMessage(serr))
			return nil
		}

		switch chunk.Kind {
		case provider.KindText:
			reply.WriteString(chunk.Text)
			if werr := out.writeFragment(chunk.Text); werr != nil {
				p.logger.Debug("client write failed, aborting stream",
					"session_id", sessionID,
					"error", werr)
				return nil
			}
		case provider.KindTool:
			if chunk.Tool != nil && chunk.Tool.Err != "" {
				p.logger.Warn("provider tool signal failed",
					"session_id", sessionID,
					"tool", chunk.Tool.Name,
					"error", chunk.Tool.Err)
				_ = out.writeError(chunk.Tool.Err)
				return nil
			}
			// Non-failing tool signals are provider-internal.
			p.logger.Debug("tool signal ignored", "session_id", sessionID)
		case provider.KindDone:
			// Swallowed: internal end-of-stream marker, never wire content.
			tokensUsed = chunk.TokensUsed
		}
	}

	if err := out.writeEnd(); err != nil {
		p.logger.Debug("end frame write failed", "session_id", sessionID, "error", err)
		return nil
	}

	p.afterStream(ctx, sessionID, req.Messages, reply.String(), tokensUsed)
	return nil
}

// loadSnapshot returns the session's snapshot, creating a fresh one at
// the greeting stage when none exists or the previous one expired.
func (p *Pipeline) loadSnapshot(ctx context.Context, sessionID string) (*conversation.Snapshot, error) {
	snap, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	if snap == nil {
		snap = conversation.NewSnapshot(p.now().UTC())
		if err := p.store.Put(ctx, sessionID, snap); err != nil {
			return nil, fmt.Errorf("creating session %s: %w", sessionID, err)
		}
	}
	return snap, nil
}

// afterStream performs the best-effort bookkeeping for a completed
// stream. Failures are logged, never surfaced.
func (p *Pipeline) afterStream(ctx context.Context, sessionID string, messages []Message, reply string, tokensUsed int) {
	if tokensUsed <= 0 {
		var prompt strings.Builder
		for _, m := range messages {
			prompt.WriteString(m.Content)
		}
		tokensUsed = provider.EstimateTokens(prompt.String() + reply)
	}
	p.budget.RecordUsage(sessionID, FeatureChat, tokensUsed)

	userMsg := latestUserMessage(messages)
	now := p.now().UTC()

	err := p.store.Update(ctx, sessionID, func(s *conversation.Snapshot) {
		if name := extractName(userMsg); name != "" && s.Lead.Name == "" {
			s.Lead.Name = name
		}
		if email := extractEmail(userMsg); email != "" && s.Lead.Email == "" {
			s.Lead.Email = email
		}
		if intent := detectIntent(userMsg); intent != "" {
			s.Intent = &conversation.Intent{Type: intent}
		}
		if role, conf := detectRole(userMsg); role != "" && conf > s.RoleConfidence {
			s.Role = role
			s.RoleConfidence = conf
		}
		if next, ok := conversation.NextStage(s.Stage); ok &&
			conversation.CanProceed(s.Stage, next, s.Lead) {
			s.Stage = next
		}
		s.UpdatedAt = now
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("post-stream snapshot update failed",
			"session_id", sessionID,
			"error", err)
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, provider.ErrUnavailable),
		errors.Is(err, provider.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return msgProviderError
	default:
		return msgInternalError
	}
}
