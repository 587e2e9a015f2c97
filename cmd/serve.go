package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conciergehq/concierge/internal/api"
	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/chat"
	"github.com/conciergehq/concierge/internal/config"
	"github.com/conciergehq/concierge/internal/conversation"
	"github.com/conciergehq/concierge/internal/gateway"
	"github.com/conciergehq/concierge/internal/log"
	"github.com/conciergehq/concierge/internal/observability"
	"github.com/conciergehq/concierge/internal/provider"
	"github.com/conciergehq/concierge/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs a long write window
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
	analyzeTimeout    = 10 * time.Second
)

// runServe wires the full stack and runs the HTTP server until SIGINT
// or SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: logLevel(cfg), JSON: !cfg.Debug})
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting concierge", "version", AppVersion, "addr", cfg.Addr)

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("opening context store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("context store close failed", "error", err)
		}
	}()

	budgetMgr := budget.NewManager(budget.Limits{
		TotalTokens:   cfg.Limits.TotalTokens,
		TotalRequests: cfg.Limits.TotalRequests,
		FeatureTokens: cfg.Limits.FeatureTokens,
		Window:        cfg.Limits.SessionWindow,
	}, logger)

	activity := gateway.NewActivityLog()
	gw, err := gateway.New(gateway.Config{
		Limiter:  gateway.NewRateLimiter(cfg.Limits.RateMax, cfg.Limits.RateWindow),
		Cache:    gateway.NewIdempotencyCache(cfg.Limits.IdempotencyTTL),
		Store:    store,
		Activity: activity,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating tool gateway: %w", err)
	}

	registry, err := tools.NewRegistry(budgetMgr, analyzeTimeout, logger)
	if err != nil {
		return fmt.Errorf("creating tool registry: %w", err)
	}

	streamer, err := provider.NewGemini(ctx, provider.GeminiConfig{
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.ModelName,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
		Timeout:     cfg.Provider.Timeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	pipeline, err := chat.NewPipeline(chat.Config{
		Streamer: streamer,
		Store:    store,
		Budget:   budgetMgr,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating chat pipeline: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Pipeline:    pipeline,
		Gateway:     gw,
		Registry:    registry,
		Store:       store,
		Budget:      budgetMgr,
		Activity:    activity,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.Addr,
		"api", "/api/v1/*",
		"tools", registry.Names(),
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// newStore opens the configured context store backend.
func newStore(cfg *config.Config) (conversation.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBadger:
		return conversation.NewBadgerStore(cfg.Store.Path, cfg.Store.SessionTTL)
	default:
		return conversation.NewMemoryStore(cfg.Store.SessionTTL), nil
	}
}

func logLevel(cfg *config.Config) slog.Level {
	if cfg.Debug || os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
