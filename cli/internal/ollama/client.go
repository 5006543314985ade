// Package ollama provides an HTTP client for the Ollama API: a health and
// model check, and the non-streaming chat call used for generation.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

const _defaultTimeout = 10 * time.Second

var (
	// ErrUnreachable indicates the server could not be reached (connection refused, timeout, or non-2xx).
	ErrUnreachable = errors.New("ollama server unreachable")
	// ErrBadRequest indicates the server rejected the request (HTTP 4xx), e.g. an unknown model.
	ErrBadRequest = errors.New("ollama rejected request")
	// ErrEmptyResponse indicates a successful call that produced no text.
	ErrEmptyResponse = errors.New("ollama returned empty response")
)

// Client calls the Ollama API. Zero value is not valid; use NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// CheckResult is the result of a health/model check.
type CheckResult struct {
	Reachable    bool     // Server responded with 200.
	ModelPresent bool     // Requested model name appears in the tags list.
	ModelNames   []string // All model names from /api/tags (for diagnostics).
}

// Message is one role-tagged chat message ("system", "user" or "assistant").
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions are the generation parameters sent with a chat request.
// Zero fields are omitted and the server default applies.
type ChatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// NewClient builds an Ollama client. baseURL is the API root (e.g. http://localhost:11434).
// If httpClient is nil, a default client with a 10s timeout is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: _defaultTimeout}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Check GETs /api/tags and reports whether the given model is installed.
// Connection and HTTP errors wrap ErrUnreachable.
func (c *Client) Check(ctx context.Context, model string) (*CheckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama tags request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: %w", errors.Join(ErrUnreachable, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags: %w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}
	var body tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("ollama tags: parse response: %w", err)
	}
	names := make([]string, 0, len(body.Models))
	for _, m := range body.Models {
		names = append(names, m.Name)
	}
	return &CheckResult{
		Reachable:    true,
		ModelPresent: slices.Contains(names, model),
		ModelNames:   names,
	}, nil
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  *ChatOptions `json:"options,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

// Chat POSTs a non-streaming /api/chat request and returns the assistant
// message text, trimmed. A 4xx wraps ErrBadRequest; transport errors and
// other non-2xx wrap ErrUnreachable; blank output returns ErrEmptyResponse.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts *ChatOptions) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: model, Messages: messages, Options: opts})
	if err != nil {
		return "", fmt.Errorf("ollama chat: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ollama chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", errors.Join(ErrUnreachable, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama chat: %w: HTTP %d: %s", ErrBadRequest, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama chat: %w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}
	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("ollama chat: parse response: %w", err)
	}
	if body.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", body.Error)
	}
	text := strings.TrimSpace(body.Message.Content)
	if text == "" {
		return "", fmt.Errorf("ollama chat: %w", ErrEmptyResponse)
	}
	return text, nil
}

// ChatGenerator binds a client to one model and option set so it can serve
// as a text generator for the commit pipeline.
type ChatGenerator struct {
	Client  *Client
	Model   string
	Options *ChatOptions
}

// Generate sends messages to the bound model.
func (g ChatGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	if g.Client == nil {
		return "", errors.New("ollama: nil client")
	}
	return g.Client.Chat(ctx, g.Model, messages, g.Options)
}
