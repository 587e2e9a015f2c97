// Package gateway is the single choke point every tool invocation passes
// through.
//
// Execute composes four cross-cutting concerns around a tool handler, in
// fixed order: rate limiting, idempotency replay, handler execution, and
// best-effort capability recording on the session's context snapshot.
// The gateway deliberately does not enforce demo budget caps; feature
// handlers consult the budget manager themselves before expensive work,
// since only the handler knows the true token cost of its operation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/conversation"
	"github.com/conciergehq/concierge/internal/log"
)

var tracer = otel.Tracer("concierge/gateway")

// ErrInvalidInput marks handler errors caused by malformed input. The
// gateway maps them to HTTP 400; handlers wrap with
// fmt.Errorf("%w: ...", gateway.ErrInvalidInput).
var ErrInvalidInput = errors.New("invalid input")

// Handler is one tool's execution logic. Run returns the tool-specific
// output on success; errors are classified by the gateway and never reach
// the client raw.
type Handler interface {
	// Name is the tool identifier used in routes, rate-limit keys, and
	// capability records.
	Name() string

	// Feature is the demo budget feature the tool draws from.
	Feature() string

	// Run executes the tool.
	Run(ctx context.Context, sessionID string, input json.RawMessage) (any, error)
}

// SnapshotEnricher is implemented by handlers whose successful output
// carries session enrichment (company or person details) beyond the
// capability record. The gateway applies it inside the same snapshot
// update as capability recording, with the same best-effort semantics.
type SnapshotEnricher interface {
	EnrichSnapshot(output any, snap *conversation.Snapshot)
}

// Outcome is the gateway's fully rendered response for one call. Body is
// the canonical JSON envelope; idempotent replays return it byte for byte.
type Outcome struct {
	Status     int
	Body       []byte
	Replayed   bool
	RetryAfter time.Duration // set only when rate limited
}

// envelope is the wire shape shared by all tools.
type envelope struct {
	OK     bool   `json:"ok"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Config wires the gateway's collaborators.
type Config struct {
	Limiter  *RateLimiter
	Cache    *IdempotencyCache
	Store    conversation.Store
	Activity *ActivityLog
	Logger   log.Logger
}

func (cfg Config) validate() error {
	if cfg.Limiter == nil {
		return errors.New("rate limiter is required")
	}
	if cfg.Cache == nil {
		return errors.New("idempotency cache is required")
	}
	if cfg.Store == nil {
		return errors.New("context store is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Gateway wraps tool handlers with rate limiting, idempotency, and
// capability recording.
type Gateway struct {
	limiter  *RateLimiter
	cache    *IdempotencyCache
	store    conversation.Store
	activity *ActivityLog
	logger   log.Logger
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	activity := cfg.Activity
	if activity == nil {
		activity = NewActivityLog()
	}
	return &Gateway{
		limiter:  cfg.Limiter,
		cache:    cfg.Cache,
		store:    cfg.Store,
		activity: activity,
		logger:   cfg.Logger,
	}, nil
}

// Activity exposes the per-session activity log for introspection.
func (g *Gateway) Activity() *ActivityLog {
	return g.activity
}

// Execute runs one tool call through the full gateway stack.
//
// Order is fixed: the rate limit is checked before any output is computed
// and before the idempotency lookup; the idempotency cache is consulted
// only when both a session ID and a client idempotency key are present;
// the handler runs at most once per (session, key) within the cache TTL;
// capability recording is best-effort and never surfaces to the caller.
// Execution failures are not retried here; retry policy belongs to the
// caller.
func (g *Gateway) Execute(ctx context.Context, h Handler, sessionID, idemKey string, input json.RawMessage) Outcome {
	tool := h.Name()

	ctx, span := tracer.Start(ctx, "gateway.execute", trace.WithAttributes(
		attribute.String("tool.name", tool),
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	if ok, retryAfter := g.limiter.Allow(tool, sessionID); !ok {
		g.logger.Warn("rate limit exceeded", "tool", tool, "session_id", sessionID)
		return render(http.StatusTooManyRequests, envelope{OK: false, Error: "Rate limit exceeded"}, retryAfter)
	}

	useCache := sessionID != "" && idemKey != ""
	if useCache {
		if out, ok := g.cache.Get(sessionID, idemKey); ok {
			g.logger.Debug("idempotent replay", "tool", tool, "session_id", sessionID)
			out.Replayed = true
			return out
		}
	}

	itemID := g.activity.Start(sessionID, "tool", tool)
	started := time.Now()

	output, err := h.Run(ctx, sessionID, input)

	var out Outcome
	if err == nil {
		g.activity.Finish(sessionID, itemID, ActivityCompleted, "")
		out = render(http.StatusOK, envelope{OK: true, Output: output}, 0)
		g.recordCapability(ctx, sessionID, h, input, output)
	} else {
		g.activity.Finish(sessionID, itemID, ActivityFailed, err.Error())
		out = render(classifyStatus(err), envelope{OK: false, Error: err.Error()}, 0)
		g.logger.Warn("tool execution failed",
			"tool", tool,
			"session_id", sessionID,
			"status", out.Status,
			"error", err,
			"duration", time.Since(started),
		)
	}

	if useCache {
		g.cache.Put(sessionID, idemKey, out)
	}
	return out
}

// classifyStatus maps handler errors onto the external taxonomy.
func classifyStatus(err error) int {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.Is(err, ErrInvalidInput), errors.As(err, &fieldErrs):
		return http.StatusBadRequest
	case errors.Is(err, budget.ErrBudgetExhausted):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// render serializes the envelope once so cached replays are byte-identical.
func render(status int, env envelope, retryAfter time.Duration) Outcome {
	body, err := json.Marshal(env)
	if err != nil {
		// Output produced by a handler that cannot be serialized is an
		// internal failure; keep the envelope shape.
		body = []byte(`{"ok":false,"error":"internal error"}`)
		status = http.StatusInternalServerError
	}
	return Outcome{Status: status, Body: body, RetryAfter: retryAfter}
}

// recordCapability appends the tool use to the session's context snapshot
// and applies the handler's enrichment, if it offers one. Best-effort:
// failures are logged and swallowed, never surfaced.
func (g *Gateway) recordCapability(ctx context.Context, sessionID string, h Handler, input json.RawMessage, output any) {
	if sessionID == "" {
		return
	}

	tool := h.Name()
	summary := redactSummary(input, output)
	err := g.store.Update(ctx, sessionID, func(snap *conversation.Snapshot) {
		snap.RecordCapability(tool, summary, time.Now())
		if enricher, ok := h.(SnapshotEnricher); ok {
			enricher.EnrichSnapshot(output, snap)
		}
	})
	if err != nil {
		g.logger.Debug("capability recording failed",
			"tool", tool,
			"session_id", sessionID,
			"error", fmt.Errorf("updating snapshot: %w", err),
		)
	}
}
