// Package ai wraps the Anthropic API behind a small completion client with
// per-call timeouts, exponential-backoff retry, a circuit breaker, and
// client-side pacing. Everything above this package treats a model call as
// an opaque text-in/text-out operation.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Model tiers. Complex analysis uses the default model; cheap bookkeeping
// calls can request the simple tier.
const (
	ModelDefault = "claude-sonnet-4-5-20250929"
	ModelSimple  = "claude-3-5-haiku-20241022"
)

// DefaultModel returns the default model, honoring the
// CODESCOPE_MODEL_DEFAULT environment override.
func DefaultModel() string {
	if m := os.Getenv("CODESCOPE_MODEL_DEFAULT"); m != "" {
		return m
	}
	return ModelDefault
}

// Client makes completion calls against the Anthropic API.
type Client struct {
	api     *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *slog.Logger
}

// Config holds client configuration.
type Config struct {
	APIKey            string      // if empty, read from ANTHROPIC_API_KEY
	Model             string      // default model (default: ModelDefault)
	Retry             RetryConfig // retry/backoff settings (defaults applied)
	RequestsPerSecond float64     // client-side pacing, 0 = unlimited
}

// ErrNoAPIKey is returned by New when no API key is available.
var ErrNoAPIKey = fmt.Errorf("ANTHROPIC_API_KEY not set")

// New creates a completion client.
func New(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, ErrNoAPIKey
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	api := anthropic.NewClient(option.WithAPIKey(apiKey))

	var breaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}

	var sem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		api:     &api,
		model:   model,
		retry:   retry,
		breaker: breaker,
		sem:     sem,
		limiter: limiter,
		log:     slog.Default().With("component", "ai"),
	}, nil
}

// Model returns the client's default model.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a single-turn prompt and returns the model's text output.
// An empty model selects the client default. The call is bounded by the
// configured per-request timeout and retried on transient failures.
func (c *Client) Complete(ctx context.Context, prompt, operation, model string, maxTokens int) (string, error) {
	if model == "" {
		model = c.model
	}
	if maxTokens == 0 {
		maxTokens = 4096
	}

	start := time.Now()
	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.api.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: anthropic API call failed: %w", operation, err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	c.log.Debug("completion finished",
		"operation", operation,
		"model", model,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"duration", time.Since(start))

	return text, nil
}
