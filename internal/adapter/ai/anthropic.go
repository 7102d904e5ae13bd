package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/domain"
)

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropic(cfg config.Config) *anthropicClient {
	return &anthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model:  cfg.AnthropicModel,
	}
}

func (c *anthropicClient) Provider() string { return "anthropic" }
func (c *anthropicClient) Model() string    { return c.model }

func (c *anthropicClient) Complete(ctx domain.Context, req CompletionRequest) (string, error) {
	system := req.System
	if req.JSONSchema != "" {
		system = system + "\n\nRespond with a single JSON object matching this schema, with no surrounding prose:\n" + req.JSONSchema
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return "", classifyAnthropic(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("op=ai.anthropic: empty completion: %w", domain.ErrInternal)
	}
	return b.String(), nil
}

func classifyAnthropic(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("op=ai.anthropic: status %d: %w", apiErr.StatusCode, domain.ErrUpstreamRateLimit)
		case apiErr.StatusCode == 408 || apiErr.StatusCode == 504:
			return fmt.Errorf("op=ai.anthropic: status %d: %w", apiErr.StatusCode, domain.ErrUpstreamTimeout)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("op=ai.anthropic: status %d: %w", apiErr.StatusCode, domain.ErrUpstreamRateLimit)
		}
		return fmt.Errorf("op=ai.anthropic: status %d: %w", apiErr.StatusCode, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("op=ai.anthropic: %w", domain.ErrUpstreamTimeout)
	}
	return fmt.Errorf("op=ai.anthropic: %w", err)
}
