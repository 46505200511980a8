// Package llm provides the chat-completion providers the bot reasons
// with, plus the LLM-backed keyword extractor for the direct search path.
package llm

import (
	"context"

	"github.com/phat-labs/phatd/pkg/retrieval"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// CompletionRequest holds parameters for an LLM completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// CompletionResponse holds the LLM's response.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "azure").
	Name() string

	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ProviderError represents an LLM provider error.
type ProviderError struct {
	Message    string
	StatusCode int
	Provider   string
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}

// Completer adapts a Provider to the retrieval.Completer interface with
// fixed sampling parameters. The zero values fall back to the provider
// defaults (4096 tokens, temperature 0.7).
type Completer struct {
	Provider    Provider
	MaxTokens   int
	Temperature float64
}

// Complete implements retrieval.Completer.
func (c Completer) Complete(ctx context.Context, turns []retrieval.Turn) (string, error) {
	messages := make([]Message, len(turns))
	for i, t := range turns {
		messages[i] = Message{Role: t.Role, Content: t.Content}
	}

	resp, err := c.Provider.Complete(ctx, CompletionRequest{
		Messages:    messages,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
