package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultAnthropicModel   = "claude-3-5-haiku-20241022"

	anthropicVersion       = "2023-06-01"
	defaultAnthropicSystem = "You are a helpful assistant."
	// The messages API requires max_tokens.
	defaultAnthropicMaxTokens = 1024
)

type AnthropicClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewAnthropicClient(config *ClientConfig) *AnthropicClient {
	if config.Model == "" {
		config.Model = DefaultAnthropicModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultAnthropicBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &AnthropicClient{
		config: config,
		http:   &http.Client{Timeout: timeout},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Generate implements Client using the messages API
func (c *AnthropicClient) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	if apiKey == "" {
		return "", ErrNoKey
	}

	system := req.System
	if system == "" {
		system = defaultAnthropicSystem
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       c.config.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer closeBody(resp.Body)

	if err := apiError(resp); err != nil {
		return "", err
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("no text content in response")
	}
	return text, nil
}
