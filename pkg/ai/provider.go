// Package ai abstracts text generation behind a single Provider interface
// with two wire shapes: chat-completion APIs and prompt-style APIs.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/synkro/synkro/internal/request"
)

// Provider generates text from a system prompt and an assembled context.
type Provider interface {
	Generate(ctx context.Context, systemPrompt, contextText string) (string, error)
}

// Error marks a generation failure so callers can fall back instead of
// failing the whole pipeline.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ai provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config selects the provider and carries its credentials.
type Config struct {
	Provider string // "openai" or "gemini"
	APIKey   string
	Model    string
	BaseURL  string
}

// NewProvider dispatches on the provider name.
func NewProvider(cfg Config, rc *request.Client) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, eris.New("ai: api key is not configured")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return newChatProvider(cfg, rc), nil
	case "gemini":
		return newPromptProvider(cfg, rc), nil
	default:
		return nil, eris.Errorf("ai: unknown provider %q", cfg.Provider)
	}
}
