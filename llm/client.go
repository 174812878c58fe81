// Package llm provides chat completion clients for LLM APIs.
package llm

import (
	"context"

	"go.aimuz.me/transcast/internal/types"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options configures LLM completion behavior.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Completer performs chat completions. onDelta, when non-nil, receives each
// piece of output text as it streams in.
type Completer interface {
	Complete(ctx context.Context, messages []Message, onDelta func(string)) (string, types.Usage, error)
}

// NewCompleter creates a Completer for the given API type. Every supported
// type speaks the OpenAI chat completions protocol; baseURL selects a
// compatible server.
func NewCompleter(apiType, apiKey, baseURL, model string, opts Options) Completer {
	if apiType != "openai-compatible" {
		baseURL = ""
	}
	return NewOpenAI(apiKey, baseURL, model, opts)
}
