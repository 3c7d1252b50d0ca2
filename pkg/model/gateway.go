package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rampart-ai/rampart/internal/governance"
	"github.com/rampart-ai/rampart/pkg/domain"
	"github.com/rampart-ai/rampart/pkg/respond"
)

// GatewayConfig configures the HTTP client for an OpenAI-compatible chat
// completion endpoint.
type GatewayConfig struct {
	// Endpoint is the full URL of the chat completions API.
	Endpoint string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Model names the upstream model to invoke.
	Model string
	// SystemPrompt is prepended to every conversation when non-empty.
	SystemPrompt string
	// Temperature passed through to the upstream model.
	Temperature float64
	// MaxTokens caps the reply length when positive.
	MaxTokens int
	// Timeout bounds each HTTP attempt. Defaults to 30 seconds.
	Timeout time.Duration
	// CitationHint asks the model for sources when the prompt does not.
	CitationHint bool
	// Retry controls per-call retries; disabled by default.
	Retry governance.RetryConfig
	// Breaker tunes the circuit breaker guarding the upstream.
	Breaker governance.CircuitBreakerConfig
}

// GatewayClient calls a chat completion API over HTTP, guarded by the
// governance circuit breaker and retry policy.
type GatewayClient struct {
	cfg        GatewayConfig
	httpClient *http.Client
	breaker    *governance.CircuitBreaker
	retry      *governance.RetryPolicy
	logger     *slog.Logger
}

// NewGatewayClient creates a gateway client. The transport is traced so
// model latency shows up on turn spans.
func NewGatewayClient(cfg GatewayConfig, logger *slog.Logger) *GatewayClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GatewayClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: governance.NewCircuitBreaker(cfg.Breaker),
		retry:   governance.NewRetryPolicy(cfg.Retry),
		logger:  logger,
	}
}

// chatMessage is one entry in the upstream conversation payload.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate produces a reply for the prompt. All failures are returned as
// a *domain.UpstreamError carrying the underlying cause.
func (c *GatewayClient) Generate(ctx context.Context, prompt string, history []domain.Message) (string, error) {
	if c.cfg.CitationHint {
		prompt = respond.CitationHint(prompt)
	}

	var reply string
	err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		_, err := c.retry.ExecuteWithRetry(ctx, func() (int, error) {
			status, text, err := c.complete(ctx, prompt, history)
			if err != nil {
				return status, err
			}
			reply = text
			return status, nil
		})
		return err
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "model generation failed", "error", err)
		return "", &domain.UpstreamError{Cause: err}
	}
	return reply, nil
}

// complete performs one HTTP attempt. The status code is reported even
// when an error is returned so the retry policy can decide by status.
func (c *GatewayClient) complete(ctx context.Context, prompt string, history []domain.Message) (int, string, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.cfg.SystemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return 0, "", fmt.Errorf("model: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("model: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("model: gateway request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close gateway response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, "", fmt.Errorf("model: gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return resp.StatusCode, "", fmt.Errorf("model: decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return resp.StatusCode, "", fmt.Errorf("model: no completion choices returned")
	}
	return resp.StatusCode, completion.Choices[0].Message.Content, nil
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *GatewayClient) BreakerState() governance.CircuitBreakerState {
	return c.breaker.State()
}
