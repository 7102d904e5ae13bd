// Package ai abstracts LLM providers behind a single invocation contract
// with timeout, retry, and error classification. Providers are selected by
// configuration and never named at call sites.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loglens/loglens/internal/adapter/ai/tokencount"
	"github.com/loglens/loglens/internal/adapter/observability"
	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/domain"
)

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	System    string
	User      string
	MaxTokens int
	// JSONSchema, when non-empty, instructs the provider to answer with a
	// single JSON object matching the schema.
	JSONSchema string
}

// Client is the LLM port used by the analysis workflow.
type Client interface {
	Complete(ctx domain.Context, req CompletionRequest) (string, error)
	Provider() string
	Model() string
}

// New selects a provider from configuration.
func New(cfg config.Config) (Client, error) {
	var inner Client
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("op=ai.New: ANTHROPIC_API_KEY required: %w", domain.ErrInvalidArgument)
		}
		inner = newAnthropic(cfg)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("op=ai.New: OPENAI_API_KEY required: %w", domain.ErrInvalidArgument)
		}
		inner = newOpenAI(cfg)
	default:
		return nil, fmt.Errorf("op=ai.New: unknown provider %q: %w", cfg.LLMProvider, domain.ErrInvalidArgument)
	}
	return &retryClient{inner: inner, timeout: cfg.LLMTimeout}, nil
}

// retryClient enforces the per-call timeout and retries transient failures
// (rate limit, timeout, connection) with exponential backoff. Other errors
// are permanent.
type retryClient struct {
	inner   Client
	timeout time.Duration
}

func (c *retryClient) Provider() string { return c.inner.Provider() }
func (c *retryClient) Model() string    { return c.inner.Model() }

const (
	retryInitialInterval = 2 * time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxAttempts     = 3
)

func (c *retryClient) Complete(ctx domain.Context, req CompletionRequest) (string, error) {
	var out string
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		s, err := c.inner.Complete(callCtx, req)
		observability.ObserveLLMRequest(c.inner.Provider(), "complete", time.Since(start))
		if err != nil {
			if isRetryable(err) {
				slog.Warn("llm call failed, retrying",
					slog.Int("attempt", attempt),
					slog.String("provider", c.inner.Provider()),
					slog.Any("error", err))
				return err
			}
			return backoff.Permanent(err)
		}
		out = s
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retryMaxAttempts-1), ctx))
	if err != nil {
		return "", fmt.Errorf("op=ai.Complete: after %d attempts: %w", attempt, err)
	}

	if usage, uerr := tokencount.CalculateUsageDefault(req.System, req.User, out, c.inner.Model(), c.inner.Provider()); uerr == nil {
		slog.Debug("llm token usage",
			slog.Int("prompt_tokens", usage.PromptTokens),
			slog.Int("completion_tokens", usage.CompletionTokens),
			slog.String("model", usage.Model))
	}
	return out, nil
}

func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrUpstreamRateLimit) ||
		errors.Is(err, domain.ErrUpstreamTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
