package api

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/chat"
	"github.com/conciergehq/concierge/internal/conversation"
	"github.com/conciergehq/concierge/internal/gateway"
	"github.com/conciergehq/concierge/internal/log"
	"github.com/conciergehq/concierge/internal/tools"
)

// Request headers carried by the web client.
const (
	headerSessionID      = "x-intelligence-session-id"
	headerIdempotencyKey = "x-idempotency-key"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// chatHandler serves POST /api/v1/chat.
type chatHandler struct {
	pipeline *chat.Pipeline
	logger   log.Logger
}

func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Failed to read request body", h.logger)
		return
	}

	req, err := chat.ParseRequest(body)
	if err != nil {
		var verr *chat.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:   "Validation failed",
				Code:    "validation_error",
				Details: verr.Details,
			}, h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request", h.logger)
		return
	}

	// A first-contact client has no session yet; issue one and echo it
	// so the client can carry it forward.
	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	w.Header().Set(headerSessionID, sessionID)

	if err := h.pipeline.Run(r.Context(), w, sessionID, req); err != nil {
		// Run fails only before the first stream byte; a plain JSON
		// error response is still possible here.
		if errors.Is(err, budget.ErrBudgetExhausted) {
			writeError(w, http.StatusForbidden, "budget_exhausted", "Demo budget exhausted", h.logger)
			return
		}
		h.logger.Error("chat stream setup failed",
			"session_id", sessionID,
			"request_id", requestIDFromContext(r.Context()),
			"error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", h.logger)
	}
}

// toolHandler serves POST /api/v1/tools/{name}.
type toolHandler struct {
	gateway  *gateway.Gateway
	registry *tools.Registry
	logger   log.Logger
}

func (h *toolHandler) execute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	handler, ok := h.registry.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_tool", "Unknown tool: "+name, h.logger)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Failed to read request body", h.logger)
		return
	}

	sessionID := r.Header.Get(headerSessionID)
	idemKey := r.Header.Get(headerIdempotencyKey)

	outcome := h.gateway.Execute(r.Context(), handler, sessionID, idemKey, body)
	if outcome.RetryAfter > 0 {
		seconds := int(math.Ceil(outcome.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	writeRaw(w, outcome.Status, outcome.Body, h.logger)
}

// sessionHandler serves the read-only debug view and explicit deletion
// of a session.
type sessionHandler struct {
	store    conversation.Store
	budget   *budget.Manager
	activity *gateway.ActivityLog
	logger   log.Logger
}

// sessionDebug is the GET /api/v1/sessions/{id} payload.
type sessionDebug struct {
	SessionID string                 `json:"sessionId"`
	Context   *conversation.Snapshot `json:"context"`
	Budget    sessionBudget          `json:"budget"`
	Activity  []gateway.ActivityItem `json:"activity"`
}

type sessionBudget struct {
	Session   budget.Session   `json:"session"`
	Remaining budget.Remaining `json:"remaining"`
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("session lookup failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", h.logger)
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "session_not_found", "Session not found", h.logger)
		return
	}

	// Peek, never Session: a debug read must not create budget state or
	// pin an expiry horizon.
	bs, ok := h.budget.Peek(id)
	if !ok {
		bs = budget.Session{SessionID: id, Features: map[string]budget.FeatureUsage{}}
	}

	writeJSON(w, http.StatusOK, sessionDebug{
		SessionID: id,
		Context:   snap,
		Budget: sessionBudget{
			Session:   bs,
			Remaining: h.budget.Remaining(id, chat.FeatureChat),
		},
		Activity: h.activity.Items(id),
	}, h.logger)
}

func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("session delete failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", h.logger)
		return
	}
	h.activity.Drop(id)
	w.WriteHeader(http.StatusNoContent)
}
