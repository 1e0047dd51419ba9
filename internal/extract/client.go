package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Chatter is the single-turn model collaborator: one user message in,
// raw response text out. No conversation history is retained.
type Chatter interface {
	Chat(ctx context.Context, prompt string, temperature float64) (string, error)
}

// ModelErrorKind distinguishes transport-level model failures from
// decode/validation failures, which are handled inside the retry loop.
type ModelErrorKind string

const (
	ModelUnavailable ModelErrorKind = "model_unavailable"
	ModelTimeout     ModelErrorKind = "model_timeout"
)

// ModelError is a transport failure talking to the model endpoint.
type ModelError struct {
	Kind ModelErrorKind
	Err  error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Client calls an Ollama-compatible chat endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error"`
}

// Chat sends a single user message and returns the raw response text.
func (c *Client) Chat(ctx context.Context, prompt string, temperature float64) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Stream:  false,
		Options: chatOptions{Temperature: temperature},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return "", &ModelError{
			Kind: ModelUnavailable,
			Err:  fmt.Errorf("model endpoint status %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model endpoint status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != "" {
		return "", fmt.Errorf("model error: %s", apiResp.Error)
	}

	return apiResp.Message.Content, nil
}

func classifyTransportError(err error) error {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return &ModelError{Kind: ModelTimeout, Err: err}
	}
	return &ModelError{Kind: ModelUnavailable, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
