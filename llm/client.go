// Package llm provides a provider-agnostic chat completion client for the
// analytics pipeline: freeform and structured invocations, transient-error
// retry, and cumulative token-usage accounting.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines a completion request.
type Request struct {
	// Messages is the chat history to send to the LLM.
	Messages []Message

	// Temperature controls randomness. nil uses the client default.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int

	// JSONMode asks the provider to constrain output to JSON where
	// supported.
	JSONMode bool
}

// TokenUsage represents token consumption for one or more LLM calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the sum of two usage records.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Sub returns the difference of two usage records. Snapshots of the
// cumulative counter are subtracted to attribute usage to one slice of work.
func (u TokenUsage) Sub(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens - other.PromptTokens,
		CompletionTokens: u.CompletionTokens - other.CompletionTokens,
		TotalTokens:      u.TotalTokens - other.TotalTokens,
	}
}

// Response contains a completion result.
type Response struct {
	// RequestID uniquely identifies this call in logs.
	RequestID string

	// Content is the generated text.
	Content string

	// Model is the model that produced the content.
	Model string

	// Usage contains token consumption metrics when the provider reports
	// them.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Config binds a client to one provider, model, and key.
type Config struct {
	// Provider names a registered provider. Empty resolves from the API
	// key prefix, see ProviderForKey.
	Provider string

	// APIKey authenticates against the provider.
	APIKey string

	// Model is the model identifier sent with every request.
	Model string

	// Endpoint overrides the provider's default base URL.
	Endpoint string

	// Temperature is the default sampling temperature. nil lets the
	// provider choose.
	Temperature *float64

	// MaxTokens is the default response length limit. 0 lets the provider
	// choose.
	MaxTokens int
}

// Client is a chat completion client bound to a single provider and model.
// Safe for concurrent use.
type Client struct {
	provider    Provider
	cfg         Config
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger

	mu    sync.Mutex
	usage TokenUsage
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client for the configured provider and model.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	name := cfg.Provider
	if name == "" {
		name = ProviderForKey(cfg.APIKey)
	}
	provider := GetProvider(name)
	if provider == nil {
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}

	c := &Client{
		provider:    provider,
		cfg:         cfg,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for LLM responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ProviderName returns the name of the bound provider.
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Usage returns the cumulative token usage across all completed calls.
func (c *Client) Usage() TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Complete sends a completion request, retrying transient failures with
// backoff.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	requestID := uuid.NewString()[:8]

	temperature := req.Temperature
	if temperature == nil {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	opts := RequestOptions{
		Temperature: temperature,
		MaxTokens:   maxTokens,
		JSONMode:    req.JSONMode,
	}

	var lastErr error
	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("retrying LLM request",
				"request_id", requestID,
				"attempt", attempt+1,
				"backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		resp, err := c.doRequest(ctx, req.Messages, opts)
		if err != nil {
			lastErr = err
			if IsFatal(err) || ctx.Err() != nil {
				break
			}
			c.logger.Warn("LLM request failed",
				"request_id", requestID,
				"provider", c.provider.Name(),
				"model", c.cfg.Model,
				"attempt", attempt+1,
				"error", err)
			continue
		}

		resp.RequestID = requestID
		if resp.Model == "" {
			resp.Model = c.cfg.Model
		}
		c.recordUsage(resp.Usage)
		c.logger.Debug("LLM request completed",
			"request_id", requestID,
			"provider", c.provider.Name(),
			"model", resp.Model,
			"duration", time.Since(start),
			"total_tokens", resp.Usage.TotalTokens)
		return resp, nil
	}

	return nil, fmt.Errorf("LLM request %s failed: %w", requestID, lastErr)
}

// Invoke sends the messages and returns the freeform completion.
func (c *Client) Invoke(ctx context.Context, messages []Message) (*Response, error) {
	return c.Complete(ctx, Request{Messages: messages})
}

// InvokeStructured sends the messages in JSON mode and unmarshals the
// response content into out. Markdown fences and common LLM JSON artifacts
// are tolerated.
func (c *Client) InvokeStructured(ctx context.Context, messages []Message, out any) (*Response, error) {
	resp, err := c.Complete(ctx, Request{Messages: messages, JSONMode: true})
	if err != nil {
		return nil, err
	}

	raw := ExtractJSON(resp.Content)
	if raw == "" {
		raw = strings.TrimSpace(resp.Content)
	}
	if raw == "" {
		return resp, fmt.Errorf("structured response %s is empty", resp.RequestID)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return resp, fmt.Errorf("decode structured response %s: %w", resp.RequestID, err)
	}
	return resp, nil
}

func (c *Client) recordUsage(u TokenUsage) {
	c.mu.Lock()
	c.usage = c.usage.Add(u)
	c.mu.Unlock()
}

// doRequest performs a single HTTP round trip against the provider.
func (c *Client) doRequest(ctx context.Context, messages []Message, opts RequestOptions) (*Response, error) {
	body, err := c.provider.BuildRequestBody(c.cfg.Model, messages, opts)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	endpoint := c.provider.BuildURL(c.cfg.Endpoint, c.cfg.Model, c.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.provider.SetHeaders(httpReq, c.cfg.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("send request: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	resp, err := c.provider.ParseResponse(respBody)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("parse response: %w", err))
	}
	return resp, nil
}

// classifyHTTPError converts HTTP error statuses into transient or fatal
// errors for the retry loop.
func classifyHTTPError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 256 {
		detail = detail[:256] + "..."
	}

	switch {
	case status == http.StatusTooManyRequests:
		return NewTransientError(fmt.Errorf("rate limited (429): %s", detail))
	case status >= 500:
		return NewTransientError(fmt.Errorf("server error (%d): %s", status, detail))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewFatalError(fmt.Errorf("authentication failed (%d): %s", status, detail))
	case status == http.StatusBadRequest:
		return NewFatalError(fmt.Errorf("bad request (400): %s", detail))
	default:
		return NewTransientError(fmt.Errorf("unexpected status (%d): %s", status, detail))
	}
}

// calculateBackoff returns the wait before a retry attempt, with jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.retryConfig.BackoffBase)
	for i := 1; i < attempt; i++ {
		backoff *= c.retryConfig.BackoffMultiplier
	}
	if limit := float64(c.retryConfig.MaxBackoff); backoff > limit {
		backoff = limit
	}

	// ±25% jitter
	jitter := backoff * 0.25 * (2*rand.Float64() - 1)
	return time.Duration(backoff + jitter)
}
