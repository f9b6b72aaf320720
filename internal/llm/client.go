// Package llm provides the chat-completion client used by the analysis,
// synthesis, and reflection stages. Calls run through the shared
// resilience wrapper; stages carry deterministic fallbacks for when the
// provider is down.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/circuitbreaker"
)

// ErrNotConfigured is returned when no provider base URL is set. Stages
// treat it like any other failure and fall back deterministically.
var ErrNotConfigured = errors.New("llm: no provider configured")

// Message is one chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one generation call.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Client generates text from a chat-style prompt.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	breakers    *circuitbreaker.Registry
	logger      *zap.Logger
}

func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration, maxTokens int, temperature float64,
	breakers *circuitbreaker.Registry, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      &http.Client{Timeout: timeout},
		breakers:    breakers,
		logger:      logger,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate runs one chat completion through the "llm" circuit breaker.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}

	var out string
	call := func(callCtx context.Context) error {
		var err error
		out, err = c.generate(callCtx, req)
		return err
	}
	var err error
	if c.breakers != nil {
		err = c.breakers.Execute(ctx, "llm", call)
	} else {
		err = call(ctx)
	}
	return out, err
}

func (c *HTTPClient) generate(ctx context.Context, req Request) (string, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if body.Error != nil {
			msg = body.Error.Message
		}
		return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, msg)
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices")
	}
	return body.Choices[0].Message.Content, nil
}
