// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package anthropic is the real provider client: a hand-rolled Messages
// API HTTP client with retry on 429/5xx honoring Retry-After.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/llm"
	"github.com/teradata-labs/agentforge/pkg/types"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultEndpoint is the default Messages API endpoint
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default maximum tokens per response
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	apiVersion           = "2023-06-01"
	defaultMaxRetries    = 3
	defaultRetryBaseWait = 2 * time.Second
	thinkingBudgetTokens = 2048
)

// Config holds client configuration.
type Config struct {
	APIKey     string
	Model      string // Default: claude-sonnet-4-5-20250929
	Endpoint   string // Default: https://api.anthropic.com/v1/messages
	Timeout    time.Duration
	MaxTokens  int // Default: 4096
	MaxRetries int // Default: 3
}

// Client implements llm.Client over the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	maxTokens  int
	maxRetries int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client; zero config fields fall back to defaults
// and ANTHROPIC_* environment overrides.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if env := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); env != "" {
			config.Model = env
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		if env := os.Getenv("ANTHROPIC_API_ENDPOINT"); env != "" {
			config.Endpoint = env
		} else {
			config.Endpoint = DefaultEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
	return &Client{
		apiKey:     config.APIKey,
		model:      config.Model,
		endpoint:   config.Endpoint,
		maxTokens:  config.MaxTokens,
		maxRetries: config.MaxRetries,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     log.Logger(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return "anthropic" }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Complete sends one completion request.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	apiReq := c.convertRequest(req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.callWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}
	return c.convertResponse(resp), nil
}

func (c *Client) convertRequest(req *llm.Request) *messagesRequest {
	apiReq := &messagesRequest{
		Model:     c.model,
		System:    req.System,
		MaxTokens: c.maxTokens,
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, message{
			Role:    m.Role,
			Content: []contentBlock{{Type: "text", Text: m.Content}},
		})
	}
	for _, t := range req.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		apiReq.Tools = append(apiReq.Tools, tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	if req.Thinking {
		apiReq.Thinking = &thinkingParam{Type: "enabled", BudgetTokens: thinkingBudgetTokens}
	}
	return apiReq
}

func (c *Client) convertResponse(resp *messagesResponse) *llm.Response {
	out := &llm.Response{StopReason: resp.StopReason}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "thinking":
			out.Thinking += block.Thinking
		case "tool_use":
			input := block.Input
			if input == nil {
				input = map[string]interface{}{}
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	out.Usage = types.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		CostUSD:      llm.CostUSD(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}
	return out
}

// callWithRetry posts the request, retrying 429 and 5xx with exponential
// backoff. A Retry-After header overrides the computed wait.
func (c *Client) callWithRetry(ctx context.Context, body []byte) (*messagesResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt, lastErr)
			c.logger.Warn("retrying completion request",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, retryable, err := c.callOnce(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("completion failed after %d retries: %w", c.maxRetries, lastErr)
}

// retryAfterError carries the server's requested wait through the retry loop.
type retryAfterError struct {
	err   error
	after time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.after > 0 {
		return ra.after
	}
	return time.Duration(math.Pow(2, float64(attempt-1))) * defaultRetryBaseWait
}

func (c *Client) callOnce(ctx context.Context, body []byte) (resp *messagesResponse, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network failures are retryable unless the context is done.
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var parsed messagesResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, false, fmt.Errorf("unmarshal response: %w", err)
		}
		return &parsed, false, nil

	case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500:
		apiErr := fmt.Errorf("api error (status %d): %s", httpResp.StatusCode, errorMessage(respBody))
		if after := parseRetryAfter(httpResp.Header.Get("Retry-After")); after > 0 {
			return nil, true, &retryAfterError{err: apiErr, after: after}
		}
		return nil, true, apiErr

	default:
		return nil, false, fmt.Errorf("api error (status %d): %s", httpResp.StatusCode, errorMessage(respBody))
	}
}

func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

var _ llm.Client = (*Client)(nil)
