package ai

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/domain"
)

type openaiClient struct {
	client openai.Client
	model  string
}

func newOpenAI(cfg config.Config) *openaiClient {
	return &openaiClient{
		client: openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey)),
		model:  cfg.OpenAIModel,
	}
}

func (c *openaiClient) Provider() string { return "openai" }
func (c *openaiClient) Model() string    { return c.model }

func (c *openaiClient) Complete(ctx domain.Context, req CompletionRequest) (string, error) {
	system := req.System
	if req.JSONSchema != "" {
		system = system + "\n\nRespond with a single JSON object matching this schema, with no surrounding prose:\n" + req.JSONSchema
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(req.User),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("op=ai.openai: empty completion: %w", domain.ErrInternal)
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("op=ai.openai: status %d: %w", apiErr.StatusCode, domain.ErrUpstreamRateLimit)
		case apiErr.StatusCode == 408 || apiErr.StatusCode == 504:
			return fmt.Errorf("op=ai.openai: status %d: %w", apiErr.StatusCode, domain.ErrUpstreamTimeout)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("op=ai.openai: status %d: %w", apiErr.StatusCode, domain.ErrUpstreamRateLimit)
		}
		return fmt.Errorf("op=ai.openai: status %d: %w", apiErr.StatusCode, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("op=ai.openai: %w", domain.ErrUpstreamTimeout)
	}
	return fmt.Errorf("op=ai.openai: %w", err)
}
