package nlp

import (
	"context"
)

// Completer turns a prompt into model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config holds configuration for the OpenAI-compatible completion client.
type Config struct {
	Model        string   `json:"model"`
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	TopP         *float32 `json:"top_p,omitempty"`
	Stop         []string `json:"stop,omitempty"`
	BaseURL      string   `json:"base_url,omitempty"` // Custom base URL for OpenAI-compatible services
	SystemPrompt string   `json:"system_prompt,omitempty"`
	// JSONMode asks the provider for a JSON object response.
	JSONMode bool `json:"json_mode,omitempty"`
}
