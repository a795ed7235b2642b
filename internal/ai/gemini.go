package ai

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

const defaultVisionPrompt = "Extract all text from this image. Preserve the structure and formatting as much as possible."

// GeminiClient generates text and reads images through the Gemini API.
// One genai client is kept per API key.
type GeminiClient struct {
	config *ClientConfig

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiClient creates a new client for the Google Gemini API.
func NewGeminiClient(ctx context.Context, config *ClientConfig) (*GeminiClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Defaults for Gemini API
	if config.Model == "" {
		config.Model = DefaultGeminiModel
	}

	return &GeminiClient{
		config:  config,
		clients: make(map[string]*genai.Client),
	}, nil
}

func (c *GeminiClient) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[apiKey]; ok {
		return cl, nil
	}

	cc := genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(c.config.BaseURL) != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.config.BaseURL}
	}

	cl, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.clients[apiKey] = cl
	return cl, nil
}

// Generate implements Client using the Gemini API
func (c *GeminiClient) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	client, err := c.clientFor(ctx, apiKey)
	if err != nil {
		return "", err
	}

	temp := float32(req.Temperature)
	cfg := genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.Text(req.System)[0]
	}

	resp, err := client.Models.GenerateContent(ctx, c.config.Model, genai.Text(req.Prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	text, err := firstText(resp)
	if err != nil {
		return "", err
	}
	// Blank images are legitimate; blank completions are not.
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}

// ExtractTextFromImage implements VisionClient. An empty prompt uses a plain
// transcription instruction.
func (c *GeminiClient) ExtractTextFromImage(ctx context.Context, apiKey, imagePath, prompt string) (string, error) {
	client, err := c.clientFor(ctx, apiKey)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if prompt == "" {
		prompt = defaultVisionPrompt
	}

	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(data, imageMIMEType(imagePath)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, c.config.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("vision extraction failed: %w", err)
	}
	return firstText(resp)
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no content returned")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func imageMIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".jpg" {
		return "image/jpeg"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return strings.SplitN(t, ";", 2)[0]
	}
	return "image/png"
}
