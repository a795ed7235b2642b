package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultEuronBaseURL  = "https://api.euron.one/api/v1/euri"
	DefaultEuronModel    = "gpt-4.1-nano"
	DefaultWhisperModel  = "whisper-1"
)

// OpenAIClient talks to OpenAI-compatible chat completion APIs. Euron is
// served by the same client with a different base URL.
type OpenAIClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.Provider == ProviderEuron {
		if config.Model == "" {
			config.Model = DefaultEuronModel
		}
		if config.BaseURL == "" {
			config.BaseURL = DefaultEuronBaseURL
		}
	}
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultOpenAIBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	// Create HTTP client with optional TLS skip verification
	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("LECTUREDOCS_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &OpenAIClient{
		config: config,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Generate implements Client using the chat completions endpoint
func (c *OpenAIClient) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	if apiKey == "" {
		return "", ErrNoKey
	}

	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	payload := map[string]any{
		"model":       c.config.Model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/chat/completions", &buf)
	if err != nil {
		return "", err
	}

	c.setHeaders(httpReq, apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer closeBody(resp.Body)

	if err := apiError(resp); err != nil {
		return "", err
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices")
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}

// Transcribe sends an audio file to the transcription endpoint and returns
// the recognised text and language.
func (c *OpenAIClient) Transcribe(ctx context.Context, apiKey, audioPath, model, language string) (string, string, error) {
	if apiKey == "" {
		return "", "", ErrNoKey
	}
	if model == "" {
		model = DefaultWhisperModel
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", "", fmt.Errorf("read audio: %w", err)
	}
	_ = w.WriteField("model", model)
	_ = w.WriteField("response_format", "verbose_json")
	if language != "" {
		_ = w.WriteField("language", language)
	}
	if err := w.Close(); err != nil {
		return "", "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", "", err
	}
	c.setHeaders(httpReq, apiKey)
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", "", err
	}
	defer closeBody(resp.Body)

	if err := apiError(resp); err != nil {
		return "", "", err
	}

	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(out.Text), out.Language, nil
}

// setHeaders sets common headers for OpenAI requests
func (c *OpenAIClient) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
}

// apiError turns a non-2xx response into an error, preferring the provider's
// own message.
func apiError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error.Message)
	}
	if body := strings.TrimSpace(string(raw)); body != "" {
		return fmt.Errorf("%s: %s", resp.Status, truncate(body, 200))
	}
	return errors.New(resp.Status)
}

func closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close response body")
	}
}
