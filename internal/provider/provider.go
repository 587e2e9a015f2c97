// Package provider abstracts the upstream language-model provider behind
// a token-stream interface.
//
// The stream is modeled as iter.Seq2[Chunk, error]: production of the
// next chunk may suspend on network I/O, and a consumer that stops
// iterating (client disconnect, terminal error) releases the upstream
// call through the iterator's deferred cleanup. Chunk is a closed tagged
// union, so the SSE encoder never shape-checks payloads at runtime.
//
// The Gemini implementation wraps google.golang.org/genai with a per-call
// deadline, transient-error retry, and a circuit breaker.
package provider

import (
	"context"
	"errors"
	"iter"
)

// Sentinel errors surfaced to the chat pipeline and tool handlers.
var (
	// ErrUnavailable indicates the provider failed or timed out after
	// retries. Never retried automatically above this layer.
	ErrUnavailable = errors.New("provider unavailable")
)

// Role identifies a message author.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of conversation input.
type Message struct {
	Role    Role
	Content string
}

// Request is one generation request.
type Request struct {
	System   string // system prompt, may be empty
	Messages []Message
}

// Kind discriminates the Chunk union.
type Kind int

// Chunk kinds.
const (
	// KindText carries a content fragment for the client.
	KindText Kind = iota

	// KindTool carries a provider-side tool signal; a non-empty Err is a
	// terminal stream failure.
	KindTool

	// KindDone is the provider-internal end-of-stream signal. It carries
	// usage metadata and is never re-emitted on the wire.
	KindDone
)

// ToolCall is the payload of a KindTool chunk.
type ToolCall struct {
	Name    string
	Payload map[string]any
	Err     string
}

// Chunk is one fragment of a generation stream. Exactly the fields for
// its Kind are set.
type Chunk struct {
	Kind Kind
	Text string    // KindText
	Tool *ToolCall // KindTool

	// TokensUsed is the total token count for the request, set on
	// KindDone when the provider reports usage.
	TokensUsed int
}

// Streamer produces a live chunk stream for a request. Implementations
// must respect ctx cancellation promptly and release upstream resources
// when the consumer stops iterating early.
type Streamer interface {
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
}

// EstimateTokens approximates the token cost of text when the provider
// reports no usage metadata. Four characters per token is the usual
// rule of thumb for English prose.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
