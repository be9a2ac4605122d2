package domain

import (
	"context"
	"time"
)

// Message is one chat turn sent to a completion provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions are per-call knobs; Timeout is strict and always set by
// the orchestrator.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// JSONOnly asks the provider to constrain output to a JSON object.
	JSONOnly bool
}

// LLMResponse carries the provider output plus usage for accounting.
type LLMResponse struct {
	Text       string
	TokensUsed int
	Done       bool
}

// ChatClient sends prompts to a chat-completion provider. Implementations
// honor ctx cancellation and the per-call timeout.
type ChatClient interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*LLMResponse, error)
	Model() string
}
