// Package genai is the summarization client: a Gemini generateContent client
// with bounded retries, exponential backoff with jitter, and a secondary
// (fallback) model line. A response that arrives without candidate text is
// treated as a failed attempt, never silently accepted.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

const (
	defaultBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	defaultMaxAttempts  = 3
	defaultTimeout      = 60 * time.Second
	initialBackoff      = 500 * time.Millisecond
	defaultMaxBackoff   = 8 * time.Second
	maxIdleConns        = 100
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// Client calls the generative API with pooled HTTP and retries.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	maxAttempts int
	maxBackoff  time.Duration
	backoffBase time.Duration

	// Usage tracking
	usageMu           sync.Mutex
	totalPromptTokens int64
	totalOutputTokens int64
	generateCalls     int64
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root. Tests point it at an
// httptest server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient replaces the pooled default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxAttempts bounds the per-model attempt count (default 3).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff overrides the backoff schedule. Tests shrink it to keep retry
// paths fast.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// NewClient creates a client authenticated by API key.
func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   defaultTimeout,
		},
		baseURL:     defaultBaseURL,
		apiKey:      apiKey,
		maxAttempts: defaultMaxAttempts,
		maxBackoff:  defaultMaxBackoff,
		backoffBase: initialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire types for the generateContent API.

type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type GenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text,omitempty"`
}

type GenerateContentResponse struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	Error         *APIError      `json:"error,omitempty"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("genai API error %d (%s): %s", e.Code, e.Status, e.Message)
}

// Summarize runs the prompt against the primary model with retries, then
// against the fallback model once if the primary line is exhausted. Returns
// the response text and the model that produced it.
func (c *Client) Summarize(ctx context.Context, primary, fallback, prompt string) (string, string, error) {
	text, err := c.generate(ctx, primary, prompt, c.maxAttempts)
	if err == nil {
		return text, primary, nil
	}
	if fallback == "" {
		return "", "", err
	}

	text, fbErr := c.generate(ctx, fallback, prompt, 1)
	if fbErr != nil {
		return "", "", fmt.Errorf("primary %s failed (%v); fallback %s failed: %w", primary, err, fallback, fbErr)
	}
	return text, fallback, nil
}

// generate calls generateContent for one model, retrying transient failures
// up to attempts times with exponential backoff plus jitter. An empty
// candidate text counts as a failed attempt.
func (c *Client) generate(ctx context.Context, model, prompt string, attempts int) (string, error) {
	req := &GenerateContentRequest{
		Contents: []Content{{
			Role:  "user",
			Parts: []Part{{Text: prompt}},
		}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("models/%s:generateContent", model)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.calculateBackoff(attempt - 1)):
			}
		}

		httpReq, err := c.buildRequest(ctx, endpoint, body)
		if err != nil {
			return "", err
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		var result GenerateContentResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if result.Error != nil {
			if isRetryableStatus(result.Error.Code) {
				lastErr = result.Error
				continue
			}
			return "", result.Error
		}

		c.recordUsage(result.UsageMetadata)

		text := extractText(&result)
		if text == "" {
			// Reported success with no text: force retry/fallback.
			lastErr = fmt.Errorf("empty response from model %s", model)
			continue
		}
		return text, nil
	}

	return "", fmt.Errorf("model %s: attempts exhausted: %w", model, lastErr)
}

func (c *Client) buildRequest(ctx context.Context, endpoint string, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	if c.apiKey != "" {
		url = fmt.Sprintf("%s?key=%s", url, c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func extractText(resp *GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return ""
	}
	return candidate.Content.Parts[0].Text
}

func isRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.backoffBase) * math.Pow(2, float64(attempt-1))
	if backoff > float64(c.maxBackoff) {
		backoff = float64(c.maxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}

// UsageStats contains accumulated usage statistics.
type UsageStats struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	GenerateCalls    int64   `json:"generate_calls"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// GetUsageStats returns accumulated usage and estimated cost.
// Pricing (Gemini 2.0 Flash):
//   - Input: $0.075 per 1M tokens
//   - Output: $0.30 per 1M tokens
func (c *Client) GetUsageStats() UsageStats {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()

	stats := UsageStats{
		PromptTokens:  c.totalPromptTokens,
		OutputTokens:  c.totalOutputTokens,
		GenerateCalls: c.generateCalls,
	}
	stats.EstimatedCostUSD = float64(c.totalPromptTokens)*0.075/1_000_000 +
		float64(c.totalOutputTokens)*0.30/1_000_000
	return stats
}

func (c *Client) recordUsage(usage *UsageMetadata) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.generateCalls++
	if usage == nil {
		return
	}
	c.totalPromptTokens += int64(usage.PromptTokenCount)
	c.totalOutputTokens += int64(usage.CandidatesTokenCount)
}
