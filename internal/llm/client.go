// Package llm is a minimal client for OpenAI-compatible chat completion
// endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNoAPIKey    = errors.New("no API key configured")
	ErrEmptyAnswer = errors.New("completion returned no choices")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion API status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion API status %d: %s", e.StatusCode, e.Message)
}

// KeyFunc supplies the API key per request so it can change at runtime.
type KeyFunc func(ctx context.Context) (string, error)

// StaticKey returns a KeyFunc that always yields key.
func StaticKey(key string) KeyFunc {
	return func(context.Context) (string, error) { return key, nil }
}

type Client struct {
	baseURL     string
	model       string
	temperature float64
	key         KeyFunc
	httpClient  *http.Client
}

type Options struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Key         KeyFunc
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		temperature: opts.Temperature,
		key:         opts.Key,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Complete sends one chat completion request and returns the content of the
// first choice.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	key := ""
	if c.key != nil {
		var err error
		if key, err = c.key(ctx); err != nil {
			return "", fmt.Errorf("resolve API key: %w", err)
		}
	}
	if strings.TrimSpace(key) == "" {
		return "", ErrNoAPIKey
	}

	payload, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Temperature: c.temperature})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		return "", &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", ErrEmptyAnswer
	}
	return decoded.Choices[0].Message.Content, nil
}
