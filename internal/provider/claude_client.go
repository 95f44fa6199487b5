// internal/provider/claude_client.go
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/config"
)

const (
	anthropicVersion      = "2023-06-01"
	anthropicComputerBeta = "computer-use-2025-01-24"
	defaultClaudeEndpoint = "https://api.anthropic.com/v1/messages"
)

// anthropicClient talks to the Anthropic Messages API over plain HTTP.
type anthropicClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// -- Messages API request/response structures (internal to this file) --

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Thinking  *claudeThinking `json:"thinking,omitempty"`
	Tools     []claudeTool    `json:"tools,omitempty"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type claudeTool struct {
	Type            string `json:"type"`
	Name            string `json:"name"`
	DisplayWidthPx  int    `json:"display_width_px"`
	DisplayHeightPx int    `json:"display_height_px"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

// claudeBlock is a content block of any type; only the fields for its Type
// are populated.
type claudeBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *claudeImageSource `json:"source,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string        `json:"tool_use_id,omitempty"`
	Content   []claudeBlock `json:"content,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type claudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeResponse struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	Content    []claudeBlock `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func newAnthropicClient(cfg config.ClaudeConfig, logger *zap.Logger) (*anthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultClaudeEndpoint
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &anthropicClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("claude_client"),
	}, nil
}

// createMessage sends one Messages API call with retries. Rate limits and
// server errors retry with exponential backoff; auth and validation errors
// are permanent.
func (c *anthropicClient) createMessage(ctx context.Context, req claudeRequest) (*claudeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var response *claudeResponse

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		httpReq.Header.Set("anthropic-beta", anthropicComputerBeta)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during model request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var payload claudeResponse
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		c.logger.Info("Model turn complete (Claude)",
			zap.Duration("duration", duration),
			zap.String("stop_reason", payload.StopReason),
			zap.Int("input_tokens", payload.Usage.InputTokens),
			zap.Int("output_tokens", payload.Usage.OutputTokens),
		)

		response = &payload
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *anthropicClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Anthropic API returned error status",
		zap.Int("status", statusCode),
		zap.ByteString("response", body),
	)
	err := fmt.Errorf("anthropic API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusServiceUnavailable, 529: // 529 is Anthropic's overloaded status
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err)
	}
}
