package backend

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

	"github.com/google/uuid"
)

// ErrNoChoices is returned when the server answers without any choice.
var ErrNoChoices = errors.New("chat completion returned no choices")

// DefaultTemperature is used when ChatOptions.Temperature is zero.
const DefaultTemperature = 0.7

// maxErrorBody bounds how much of an error response body ends up in an error.
const maxErrorBody = 512

// ChatOptions configures a ChatClient.
type ChatOptions struct {
	// BaseURL is the server root, e.g. "https://api.openai.com". The client
	// posts to BaseURL + "/v1/chat/completions".
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Model is sent as the model field when set; otherwise the server default
	// is used.
	Model string
	// Temperature defaults to DefaultTemperature.
	Temperature float64
	// MaxTokens is omitted from the request when zero.
	MaxTokens int
	// HTTPClient defaults to a client with a two minute timeout.
	HTTPClient *http.Client
}

// ChatClient implements Backend against an OpenAI-compatible chat
// completions endpoint.
type ChatClient struct {
	client      *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

var _ Backend = (*ChatClient)(nil)

// NewChatClient creates a chat client.
func NewChatClient(opts ChatOptions) *ChatClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	temp := opts.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}
	return &ChatClient{
		client:      hc,
		endpoint:    strings.TrimSuffix(opts.BaseURL, "/") + "/v1/chat/completions",
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: temp,
		maxTokens:   opts.MaxTokens,
	}
}

type chatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends messages and returns the content of the first choice.
func (c *ChatClient) Complete(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	reply, err := c.complete(ctx, messages)
	requestDuration.Observe(time.Since(start).Seconds())
	return reply, err
}

func (c *ChatClient) complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		requestsTotal.WithLabelValues(resultError).Inc()
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		requestsTotal.WithLabelValues(resultError).Inc()
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(resultError).Inc()
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		requestsTotal.WithLabelValues(resultHTTPError).Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("chat request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		requestsTotal.WithLabelValues(resultError).Inc()
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		requestsTotal.WithLabelValues(resultError).Inc()
		return "", ErrNoChoices
	}

	requestsTotal.WithLabelValues(resultOK).Inc()
	return result.Choices[0].Message.Content, nil
}
