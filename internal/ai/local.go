package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	DefaultLocalURL   = "http://localhost:11434"
	DefaultLocalModel = "mistral"
)

// LocalClient generates text with an Ollama server. It needs no API key.
type LocalClient struct {
	config *ClientConfig
	llm    llms.Model
}

func NewLocalClient(config *ClientConfig) (*LocalClient, error) {
	if config.Model == "" {
		config.Model = DefaultLocalModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultLocalURL
	}

	llm, err := ollama.New(
		ollama.WithServerURL(config.BaseURL),
		ollama.WithModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &LocalClient{config: config, llm: llm}, nil
}

// Generate implements Client. apiKey is ignored.
func (c *LocalClient) Generate(ctx context.Context, _ string, req Request) (string, error) {
	var content []llms.MessageContent
	if req.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("local generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}
