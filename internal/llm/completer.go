// Package llm wraps the chat-completion provider used for fact extraction.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Rev4nchist/agent-arch/internal/reliability"
)

var (
	ErrDisabled = errors.New("llm: completion provider not configured")
	// ErrUnavailable marks provider failures that are worth retrying later.
	ErrUnavailable = errors.New("llm: provider unavailable")
)

const DefaultModel = "claude-3-5-haiku-latest"

// Completer produces a single text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// AnthropicCompleter calls the Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter returns nil, ErrDisabled when no API key is set.
func NewAnthropicCompleter(cfg Config) (*AnthropicCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicCompleter{client: anthropic.NewClient(opts...), model: model}, nil
}

func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify(err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && reliability.IsRetryableHTTPStatus(apiErr.StatusCode) {
		return fmt.Errorf("%w: status %d: %v", ErrUnavailable, apiErr.StatusCode, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("claude API error: %w", err)
}
