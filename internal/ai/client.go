package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request is a single text generation call.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Client generates text with one provider. The caller picks the API key so
// that key rotation stays with the router.
type Client interface {
	Generate(ctx context.Context, apiKey string, req Request) (string, error)
}

// VisionClient is implemented by providers that can read text out of images.
type VisionClient interface {
	ExtractTextFromImage(ctx context.Context, apiKey, imagePath, prompt string) (string, error)
}

// Provider is enumeration of supported generation providers
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderEuron     Provider = "euron"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderLocal     Provider = "local"
	ProviderStub      Provider = "stub"
)

// fallbackOrder is the fixed priority of remote providers after the primary.
// The local provider is never part of it; it is always appended last.
var fallbackOrder = []Provider{ProviderGemini, ProviderEuron, ProviderOpenAI, ProviderAnthropic}

// ParseProvider maps a configuration value onto a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderGemini, ProviderEuron, ProviderOpenAI, ProviderAnthropic, ProviderLocal, ProviderStub:
		return p, nil
	}
	return "", fmt.Errorf("unsupported provider: %q", s)
}

// ClientConfig holds configuration for a single provider client
type ClientConfig struct {
	Provider Provider
	Model    string
	BaseURL  string
	// Timeout bounds one HTTP exchange. Zero keeps the client default.
	Timeout time.Duration
}

// NewClient creates a provider client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI, ProviderEuron:
		return NewOpenAIClient(config), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, config)
	case ProviderAnthropic:
		return NewAnthropicClient(config), nil
	case ProviderLocal:
		return NewLocalClient(config)
	case ProviderStub:
		return NewStubClient(""), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient answers every request with a canned reply. It is used when no
// provider is reachable and in tests.
type StubClient struct {
	Reply string
	Err   error
}

// NewStubClient creates a new StubClient
func NewStubClient(reply string) *StubClient {
	return &StubClient{Reply: reply}
}

func (s *StubClient) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	if s.Reply != "" {
		return s.Reply, nil
	}
	// Simple heuristic reply for offline runs
	lines := strings.Split(strings.TrimSpace(req.Prompt), "\n")
	return "Generated response for: " + lines[0], nil
}

func (s *StubClient) ExtractTextFromImage(ctx context.Context, apiKey, imagePath, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}

// truncate keeps at most n bytes of s
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
