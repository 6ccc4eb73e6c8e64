// Package llm defines the Provider interface for text-completion backends.
//
// A provider wraps one remote or local API (OpenAI, Anthropic, Gemini, Ollama
// …). The model is chosen per request, so a single provider instance serves
// every model of its backend; this lets a caller walk a fallback chain such as
// "anthropic/claude-sonnet-4" → "anthropic/claude-3-5-haiku-latest" without
// rebuilding clients.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role values for [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting reported by the backend. Counts are in the
// backend's own unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is a single non-streaming completion.
type CompletionRequest struct {
	// Model is the backend-specific model name, without any provider prefix.
	Model string

	// SystemPrompt, if set, is sent as a leading system message.
	SystemPrompt string

	// Messages is the ordered conversation; the last one is usually from the
	// user.
	Messages []Message

	// Temperature in [0, 2]. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the completion. Zero leaves the backend default.
	MaxTokens int
}

// Validate reports whether req can be sent.
func (req CompletionRequest) Validate() error {
	if req.Model == "" {
		return errors.New("llm: model must not be empty")
	}
	if len(req.Messages) == 0 {
		return errors.New("llm: at least one message is required")
	}
	return nil
}

// CompletionResponse is the full reply to a [CompletionRequest].
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// SplitModelID splits a qualified model id "provider/model" into its parts.
// The model part may itself contain slashes ("ollama/library/llama3").
func SplitModelID(id string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(id, "/")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("llm: model id %q must look like provider/model", id)
	}
	return strings.ToLower(provider), model, nil
}
