package nlp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Completer for OpenAI and OpenAI-compatible services.
type OpenAIClient struct {
	client *openai.Client
	config Config
	op     string
}

// NewOpenAIClient creates a completion client. A BaseURL points it at any
// OpenAI-compatible service, in which case the key may be empty.
func NewOpenAIClient(apiKey string, config Config) (*OpenAIClient, error) {
	if apiKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("api key is required without a base URL")
	}
	clientConfig, err := NewOpenAIConfig(apiKey, config.BaseURL)
	if err != nil {
		return nil, err
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}

	op := "openai completion"
	if config.BaseURL != "" {
		op = "completion at " + clientConfig.BaseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(clientConfig), config: config, op: op}, nil
}

// Complete sends prompt as a single user message and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt))
	if err != nil {
		return "", Classify(c.op, err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Kind: KindEmpty, Op: c.op, Message: "no choices returned"}
	}

	choice := resp.Choices[0]
	switch {
	case choice.FinishReason == openai.FinishReasonContentFilter:
		return "", &ProviderError{Kind: KindRefused, Op: c.op, Message: "completion blocked by content filter"}
	case strings.TrimSpace(choice.Message.Content) == "":
		return "", &ProviderError{Kind: KindEmpty, Op: c.op}
	}
	return choice.Message.Content, nil
}

func (c *OpenAIClient) request(prompt string) openai.ChatCompletionRequest {
	cfg := c.config
	req := openai.ChatCompletionRequest{Model: cfg.Model, Stop: cfg.Stop}
	if cfg.SystemPrompt != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: cfg.SystemPrompt})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	if cfg.Temperature != nil {
		req.Temperature = *cfg.Temperature
	}
	if cfg.MaxTokens != nil {
		req.MaxTokens = *cfg.MaxTokens
	}
	if cfg.TopP != nil {
		req.TopP = *cfg.TopP
	}
	if cfg.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req
}

// NewOpenAIConfig builds the go-openai client configuration shared with the
// embedder. A custom base URL without an /api or /v1 suffix gets /v1 appended.
func NewOpenAIConfig(apiKey, baseURL string) (openai.ClientConfig, error) {
	if baseURL == "" {
		return openai.DefaultConfig(apiKey), nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return openai.ClientConfig{}, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return openai.ClientConfig{}, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	if apiKey == "" {
		// Local servers ignore the key but go-openai always sends one.
		apiKey = "unused"
	}
	cfg := openai.DefaultConfig(apiKey)
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/v1") && !strings.HasSuffix(base, "/api") {
		base += "/v1"
	}
	cfg.BaseURL = base
	return cfg, nil
}
