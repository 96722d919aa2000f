package backend

import (
	"context"
)

// Default endpoint paths and limits
const (
	DefaultEmbedPath    = "/embed"
	DefaultCompletePath = "/complete/stream"

	DefaultEmbedTimeoutSec = 30
	DefaultStreamBuffer    = 64
)

// CompletionRequest carries a prompt plus its assembled context to the
// generative backend.
type CompletionRequest struct {
	Prompt      string   `json:"prompt"`
	Context     []string `json:"context,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	RequestID   string   `json:"request_id,omitempty"`
}

// Delta is a single streamed completion event. Exactly one of Token, Done, or
// Err is meaningful; the producing channel closes after Done or Err.
type Delta struct {
	Token string
	Done  bool
	Err   error
}

// Client is the narrow contract the core holds against the external AI
// backend: one embedding call and one streaming completion call. Everything
// above this interface is provider-agnostic.
type Client interface {
	// Embed returns one vector per input text, order-preserving. The returned
	// vectors are raw (not normalized); normalization happens at embedding
	// creation in the embedder.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// CompleteStream starts a streaming completion. It returns after the
	// request is accepted; tokens arrive on the returned channel in backend
	// production order. The channel is closed after a terminal Done or Err
	// delta, or when ctx is cancelled.
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan Delta, error)

	// Close releases idle connections.
	Close() error
}
