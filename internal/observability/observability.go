// Package observability wires OpenTelemetry tracing for the concierge.
//
// Traces go to an OTLP/HTTP collector (a local agent in development).
// When no endpoint is configured, tracing is disabled and Setup returns
// a no-op shutdown, so call sites never branch on whether tracing is on.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/conciergehq/concierge/internal/log"
)

// Config for tracing setup.
type Config struct {
	// Endpoint is the OTLP HTTP collector host:port. Empty disables
	// tracing entirely.
	Endpoint string
	// ServiceName identifies this service in trace backends.
	ServiceName string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	Logger      log.Logger
}

// Setup installs the global tracer provider and returns a shutdown
// function that flushes pending spans.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		return noop, nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(), // local agent, no TLS
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return noop, fmt.Errorf("building trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)
	return tp.Shutdown, nil
}
