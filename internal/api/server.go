// Package api is the JSON/SSE HTTP surface of the concierge: the chat
// stream, the gated tool endpoints, and the session debug view.
package api

import (
	"errors"
	"net/http"

	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/chat"
	"github.com/conciergehq/concierge/internal/conversation"
	"github.com/conciergehq/concierge/internal/gateway"
	"github.com/conciergehq/concierge/internal/log"
	"github.com/conciergehq/concierge/internal/tools"
)

// ServerConfig contains everything the API server needs.
type ServerConfig struct {
	Logger      log.Logger
	Pipeline    *chat.Pipeline       // Required
	Gateway     *gateway.Gateway     // Required
	Registry    *tools.Registry      // Required
	Store       conversation.Store   // Required
	Budget      *budget.Manager      // Required
	Activity    *gateway.ActivityLog // Required
	CORSOrigins []string             // Allowed origins for CORS
	TrustProxy  bool                 // Trust X-Real-IP/X-Forwarded-For
	RateBurst   int                  // Per-IP burst size (0 = default 60)
}

// Server is the concierge HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Pipeline == nil:
		return nil, errors.New("chat pipeline is required")
	case cfg.Gateway == nil:
		return nil, errors.New("tool gateway is required")
	case cfg.Registry == nil:
		return nil, errors.New("tool registry is required")
	case cfg.Store == nil:
		return nil, errors.New("context store is required")
	case cfg.Budget == nil:
		return nil, errors.New("budget manager is required")
	case cfg.Activity == nil:
		return nil, errors.New("activity log is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Config{})
	}

	ch := &chatHandler{pipeline: cfg.Pipeline, logger: logger}
	th := &toolHandler{gateway: cfg.Gateway, registry: cfg.Registry, logger: logger}
	sh := &sessionHandler{
		store:    cfg.Store,
		budget:   cfg.Budget,
		activity: cfg.Activity,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.stream)
	mux.HandleFunc("POST /api/v1/tools/{name}", th.execute)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newIPLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID sits before Logging so request_id is available in log
	// attributes; CORS before RateLimit so preflight OPTIONS gets CORS
	// headers even when throttled.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.HandleFunc("GET /ready", ready(cfg.Store, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
