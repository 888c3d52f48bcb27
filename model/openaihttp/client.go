// Package openaihttp implements tiller.ModelClient for any OpenAI-compatible
// chat completions API: OpenAI, OpenRouter, Groq, Together, DeepSeek,
// Ollama, vLLM, LM Studio, and the rest.
//
// Non-200 responses surface as *tiller.ErrHTTP so the core's classifier can
// bucket them by status code (401/403 critical, 429 rate limit, 5xx
// transient) and honour Retry-After. Network failures surface as
// *tiller.ErrModel with a "network: " message.
package openaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	tiller "github.com/tillerhq/tiller"
)

// Default network budgets.
const (
	defaultConnectTimeout = 30 * time.Second
	defaultReadTimeout    = 60 * time.Second
)

// Client is an OpenAI-compatible ModelClient.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	name        string
	client      *http.Client
	temperature *float64
	maxTokens   *int
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithName overrides the client name reported in logs and fallback results.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithHTTPClient replaces the HTTP client, overriding the default timeouts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = &n }
}

// WithTimeouts sets the connect and read budgets on the default HTTP client.
func WithTimeouts(connect, read time.Duration) Option {
	return func(c *Client) { c.client = newHTTPClient(connect, read) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. baseURL is the API base (e.g.
// "https://api.openai.com/v1"); the /chat/completions path is appended.
func New(apiKey, model, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		name:    "openai:" + model,
		client:  newHTTPClient(defaultConnectTimeout, defaultReadTimeout),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ tiller.ModelClient = (*Client)(nil)

// Name implements tiller.ModelClient.
func (c *Client) Name() string { return c.name }

// wire types for the chat completions API.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke implements tiller.ModelClient.
func (c *Client) Invoke(ctx context.Context, history []tiller.Msg, prompt string) (string, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &tiller.ErrModel{Client: c.name, Message: "network: " + err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &tiller.ErrModel{Client: c.name, Message: "read response: " + err.Error()}
	}
	c.logger.Debug("chat completion", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return "", &tiller.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       truncate(string(data), 500),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &tiller.ErrModel{Client: c.name, Message: "decode response: " + err.Error()}
	}
	if parsed.Error != nil {
		return "", &tiller.ErrModel{Client: c.name, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &tiller.ErrModel{Client: c.name, Message: "empty choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// newHTTPClient builds a client with a dial (connect) timeout and an overall
// request (read) timeout.
func newHTTPClient(connect, read time.Duration) *http.Client {
	return &http.Client{
		Timeout: read,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: connect}).DialContext,
			TLSHandshakeTimeout: connect,
		},
	}
}

// parseRetryAfter reads a Retry-After header in seconds form.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
