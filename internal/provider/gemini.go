package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"google.golang.org/genai"

	"github.com/conciergehq/concierge/internal/log"
)

// GeminiConfig contains the parameters for the Gemini streamer.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration // per-call deadline, required

	Retry   RetryConfig          // zero-value uses defaults
	Breaker CircuitBreakerConfig // zero-value uses defaults

	Logger log.Logger
}

func (cfg GeminiConfig) validate() error {
	if cfg.APIKey == "" {
		return errors.New("API key is required")
	}
	if cfg.Model == "" {
		return errors.New("model is required")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Gemini streams generations from the Gemini API. Outbound calls carry an
// explicit deadline; transient failures are retried with exponential
// backoff as long as nothing has been emitted yet, and repeated failures
// trip the circuit breaker.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration

	retry   RetryConfig
	breaker *CircuitBreaker
	logger  log.Logger
}

// NewGemini creates a Gemini streamer.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	return &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
		timeout:     cfg.Timeout,
		retry:       retry,
		breaker:     NewCircuitBreaker(cfg.Breaker),
		logger:      cfg.Logger,
	}, nil
}

// buildRequest converts a Request into genai contents and config.
func (g *Gemini) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if g.maxTokens > 0 {
		config.MaxOutputTokens = g.maxTokens
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	return contents, config
}

// Stream implements Streamer.
func (g *Gemini) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		if err := g.breaker.Allow(); err != nil {
			g.logger.Warn("circuit breaker rejecting provider call", "state", g.breaker.State().String())
			yield(Chunk{}, fmt.Errorf("%w: %s", ErrUnavailable, err))
			return
		}

		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		contents, config := g.buildRequest(req)

		delay := g.retry.InitialInterval
		var lastErr error
		for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
			emitted, stopped, err := g.streamOnce(ctx, contents, config, yield)
			if stopped {
				// Consumer walked away; nothing more to report.
				return
			}
			if err == nil {
				g.breaker.Success()
				return
			}
			lastErr = err

			// Once chunks have reached the consumer, a mid-stream retry
			// would replay content; surface the error instead.
			if emitted || !retryableError(err) || attempt == g.retry.MaxRetries {
				break
			}

			g.logger.Debug("retrying provider stream",
				"attempt", attempt+1,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				g.breaker.Failure()
				yield(Chunk{}, fmt.Errorf("%w: %s", ErrUnavailable, ctx.Err()))
				return
			case <-time.After(delay):
				delay = g.retry.nextDelay(delay)
			}
		}

		g.breaker.Failure()
		yield(Chunk{}, fmt.Errorf("%w: %s", ErrUnavailable, lastErr))
	}
}

// streamOnce drives a single upstream stream, translating responses into
// chunks. stopped reports that the consumer ended iteration early, in
// which case yield must not be called again.
func (g *Gemini) streamOnce(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	yield func(Chunk, error) bool,
) (emitted, stopped bool, err error) {
	var usage int

	for resp, streamErr := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if streamErr != nil {
			return emitted, false, streamErr
		}
		if md := resp.UsageMetadata; md != nil {
			usage = int(md.TotalTokenCount)
		}

		chunk, ok := chunkFromResponse(resp)
		if !ok {
			continue
		}
		emitted = true
		if !yield(chunk, nil) {
			return emitted, true, nil
		}
	}

	if !yield(Chunk{Kind: KindDone, TokensUsed: usage}, nil) {
		return emitted, true, nil
	}
	return emitted, false, nil
}

// chunkFromResponse maps one streamed response onto the Chunk union.
// Responses carrying only metadata produce no chunk.
func chunkFromResponse(resp *genai.GenerateContentResponse) (Chunk, bool) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Chunk{}, false
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			return Chunk{
				Kind: KindTool,
				Tool: &ToolCall{
					Name:    part.FunctionCall.Name,
					Payload: part.FunctionCall.Args,
				},
			}, true
		}
	}

	if text := resp.Text(); text != "" {
		return Chunk{Kind: KindText, Text: text}, true
	}
	return Chunk{}, false
}
