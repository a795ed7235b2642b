package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTransport implements http.RoundTripper for testing
type MockTransport struct {
	mu             sync.RWMutex
	responses      map[string]*http.Response
	responseBodies map[string]string
	requests       []*http.Request
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses:      make(map[string]*http.Response),
		responseBodies: make(map[string]string),
		requests:       make([]*http.Request, 0),
	}
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Store the request for inspection
	m.requests = append(m.requests, req)

	// Create a key based on method and URL
	key := fmt.Sprintf("%s %s", req.Method, req.URL.String())

	if respData, exists := m.responses[key]; exists {
		// Get the stored body for this response
		body := m.responseBodies[key]
		// Create a fresh response with a new body reader
		return &http.Response{
			StatusCode: respData.StatusCode,
			Status:     respData.Status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     copyHeaders(respData.Header),
		}, nil
	}

	// Default response if no mock is set up
	return &http.Response{
		StatusCode: 500,
		Status:     "500 Internal Server Error",
		Body:       io.NopCloser(strings.NewReader(`{"error": {"message": "Mock not configured"}}`)),
		Header:     make(http.Header),
	}, nil
}

func (m *MockTransport) AddResponse(method, url string, statusCode int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s %s", method, url)
	m.responses[key] = &http.Response{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Header:     make(http.Header),
	}
	m.responseBodies[key] = body
}

func (m *MockTransport) GetRequests() []*http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid concurrent access issues
	requests := make([]*http.Request, len(m.requests))
	copy(requests, m.requests)
	return requests
}

func (m *MockTransport) ClearRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = make([]*http.Request, 0)
}

// Helper function to copy HTTP headers
func copyHeaders(original http.Header) http.Header {
	copy := make(http.Header)
	for key, values := range original {
		copy[key] = make([]string, len(values))
		for i, value := range values {
			copy[key][i] = value
		}
	}
	return copy
}

// Helper function to create a client with mock transport
func createMockClient(transport *MockTransport) *OpenAIClient {
	config := &ClientConfig{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o-mini",
	}

	client := NewOpenAIClient(config)
	client.http = &http.Client{
		Transport: transport,
		Timeout:   20 * time.Second,
	}

	return client
}

const chatURL = "https://api.openai.com/v1/chat/completions"

// Test NewOpenAIClient
func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name          string
		config        *ClientConfig
		expectedModel string
		expectedBase  string
	}{
		{
			name:          "openai defaults",
			config:        &ClientConfig{Provider: ProviderOpenAI},
			expectedModel: DefaultOpenAIModel,
			expectedBase:  DefaultOpenAIBaseURL,
		},
		{
			name:          "euron defaults",
			config:        &ClientConfig{Provider: ProviderEuron},
			expectedModel: DefaultEuronModel,
			expectedBase:  DefaultEuronBaseURL,
		},
		{
			name:          "custom model and base url",
			config:        &ClientConfig{Provider: ProviderOpenAI, Model: "gpt-4o", BaseURL: "http://proxy.local/v1/"},
			expectedModel: "gpt-4o",
			expectedBase:  "http://proxy.local/v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewOpenAIClient(tt.config)

			if client == nil {
				t.Fatal("Expected client instance, got nil")
			}
			if client.config.Model != tt.expectedModel {
				t.Errorf("Expected Model '%s', got '%s'", tt.expectedModel, client.config.Model)
			}
			if client.config.BaseURL != tt.expectedBase {
				t.Errorf("Expected BaseURL '%s', got '%s'", tt.expectedBase, client.config.BaseURL)
			}
			if client.http == nil {
				t.Error("Expected HTTP client to be initialized")
			}
			if client.http.Timeout != 20*time.Second {
				t.Errorf("Expected timeout 20s, got %v", client.http.Timeout)
			}
		})
	}
}

// Test OpenAIClient.Generate method
func TestOpenAIClient_Generate(t *testing.T) {
	tests := []struct {
		name         string
		apiKey       string
		statusCode   int
		responseBody string
		expectError  bool
		errorMsg     string
		expectedText string
	}{
		{
			name:        "missing API key",
			apiKey:      "",
			expectError: true,
			errorMsg:    "api key unset",
		},
		{
			name:       "successful generation",
			apiKey:     "test-key",
			statusCode: 200,
			responseBody: `{
				"choices": [
					{
						"message": {
							"content": "  Go is a programming language.  "
						}
					}
				]
			}`,
			expectedText: "Go is a programming language.",
		},
		{
			name:         "API error with message",
			apiKey:       "test-key",
			statusCode:   429,
			responseBody: `{"error": {"message": "Rate limit exceeded"}}`,
			expectError:  true,
			errorMsg:     "Rate limit exceeded",
		},
		{
			name:         "API error without message",
			apiKey:       "test-key",
			statusCode:   500,
			responseBody: ``,
			expectError:  true,
			errorMsg:     "500 Internal Server Error",
		},
		{
			name:         "no choices",
			apiKey:       "test-key",
			statusCode:   200,
			responseBody: `{"choices": []}`,
			expectError:  true,
			errorMsg:     "no choices",
		},
		{
			name:         "empty completion",
			apiKey:       "test-key",
			statusCode:   200,
			responseBody: `{"choices": [{"message": {"content": "   "}}]}`,
			expectError:  true,
			errorMsg:     "empty completion",
		},
		{
			name:         "malformed JSON",
			apiKey:       "test-key",
			statusCode:   200,
			responseBody: `{"choices": [`,
			expectError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			if tt.statusCode != 0 {
				transport.AddResponse("POST", chatURL, tt.statusCode, tt.responseBody)
			}
			client := createMockClient(transport)

			text, err := client.Generate(context.Background(), tt.apiKey, Request{
				Prompt:      "What is Go?",
				System:      "Be brief.",
				MaxTokens:   50,
				Temperature: 0.7,
			})

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if text != tt.expectedText {
				t.Errorf("Expected '%s', got '%s'", tt.expectedText, text)
			}
		})
	}
}

func TestOpenAIClient_GenerateRequestShape(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k1" {
			t.Errorf("unexpected Authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI, BaseURL: server.URL + "/v1"})
	if _, err := client.Generate(context.Background(), "k1", Request{Prompt: "q", System: "sys", MaxTokens: 500, Temperature: 0.7}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got["model"] != DefaultOpenAIModel {
		t.Errorf("unexpected model %v", got["model"])
	}
	if got["max_tokens"] != float64(500) || got["temperature"] != 0.7 {
		t.Errorf("unexpected parameters %v", got)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", got["messages"])
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "sys" {
		t.Errorf("unexpected system message %v", first)
	}
}

func TestOpenAIClient_GenerateWithoutSystem(t *testing.T) {
	var got struct {
		Messages []map[string]string `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(&ClientConfig{Provider: ProviderEuron, BaseURL: server.URL})
	if _, err := client.Generate(context.Background(), "k", Request{Prompt: "q"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0]["role"] != "user" {
		t.Errorf("expected a single user message, got %v", got.Messages)
	}
}

func TestOpenAIClient_GenerateWithCancelledContext(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", chatURL, 200, `{"choices":[{"message":{"content":"ok"}}]}`)
	client := createMockClient(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Generate(ctx, "test-key", Request{Prompt: "q"}); err == nil {
		t.Error("Expected error with cancelled context")
	}
}

func TestOpenAIClient_Transcribe(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "lecture.mp3")
	if err := os.WriteFile(audio, []byte("fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if m := r.FormValue("model"); m != "whisper-1" {
			t.Errorf("unexpected model %q", m)
		}
		if l := r.FormValue("language"); l != "en" {
			t.Errorf("unexpected language %q", l)
		}
		if _, hdr, err := r.FormFile("file"); err != nil || hdr.Filename != "lecture.mp3" {
			t.Errorf("unexpected file part: %v", err)
		}
		_, _ = w.Write([]byte(`{"text": " hello class ", "language": "english"}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI, BaseURL: server.URL})
	text, lang, err := client.Transcribe(context.Background(), "k", audio, "", "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello class" || lang != "english" {
		t.Errorf("unexpected transcription %q / %q", text, lang)
	}

	if _, _, err := client.Transcribe(context.Background(), "", audio, "", ""); !errors.Is(err, ErrNoKey) {
		t.Errorf("Expected ErrNoKey, got %v", err)
	}
	if _, _, err := client.Transcribe(context.Background(), "k", filepath.Join(dir, "missing.mp3"), "", ""); err == nil {
		t.Error("Expected error for missing file")
	}
}

// Test setHeaders method
func TestOpenAIClient_setHeaders(t *testing.T) {
	client := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI})
	req, _ := http.NewRequest("POST", "https://example.com", nil)

	client.setHeaders(req, "sk-test")

	if auth := req.Header.Get("Authorization"); auth != "Bearer sk-test" {
		t.Errorf("Expected Authorization 'Bearer sk-test', got '%s'", auth)
	}
	if accept := req.Header.Get("Accept"); accept != "application/json" {
		t.Errorf("Expected Accept 'application/json', got '%s'", accept)
	}
}

// Test HTTP client timeout behavior
func TestOpenAIClient_HTTPTimeout(t *testing.T) {
	// Create a test server that delays response
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond) // Small delay for testing
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI, BaseURL: server.URL})

	// Set a very short timeout
	client.http.Timeout = 1 * time.Millisecond

	_, err := client.Generate(context.Background(), "test-key", Request{Prompt: "q"})

	if err == nil {
		t.Fatal("Expected timeout error but got none")
	}
	if !strings.Contains(err.Error(), "timeout") &&
		!strings.Contains(err.Error(), "deadline exceeded") &&
		!strings.Contains(err.Error(), "Client.Timeout exceeded") &&
		!strings.Contains(err.Error(), "request canceled") {
		t.Errorf("Expected timeout error, got: %v", err)
	}
}

// Test concurrent requests
func TestOpenAIClient_ConcurrentRequests(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", chatURL, 200, `{"choices":[{"message":{"content":"answer"}}]}`)

	client := createMockClient(transport)

	const numGoroutines = 10
	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			text, err := client.Generate(context.Background(), "test-key", Request{Prompt: fmt.Sprintf("q %d", id)})
			if err != nil {
				errs <- err
				return
			}
			if text != "answer" {
				errs <- fmt.Errorf("unexpected text %q", text)
			}
		}(i)
	}
	wg.Wait()

	close(errs)
	for err := range errs {
		t.Errorf("Concurrent request error: %v", err)
	}

	// Verify correct number of requests were made
	if n := len(transport.GetRequests()); n != numGoroutines {
		t.Errorf("Expected %d requests, got %d", numGoroutines, n)
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"success", 200, `{}`, ""},
		{"provider message", 401, `{"error":{"message":"invalid key"}}`, "401 Unauthorized: invalid key"},
		{"anthropic shape", 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, "Overloaded"},
		{"plain body", 502, `bad gateway`, "502 Bad Gateway: bad gateway"},
		{"empty body", 503, ``, "503 Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Status:     fmt.Sprintf("%d %s", tt.status, http.StatusText(tt.status)),
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			err := apiError(resp)
			if tt.want == "" {
				if err != nil {
					t.Errorf("Expected nil, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func BenchmarkOpenAIClient_setHeaders(b *testing.B) {
	client := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI})
	req, _ := http.NewRequest("POST", "https://example.com", nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		client.setHeaders(req, "sk-bench")
	}
}
