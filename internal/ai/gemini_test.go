package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/genai"
)

func TestNewGeminiClient_Configuration(t *testing.T) {
	ctx := context.Background()

	if _, err := NewGeminiClient(ctx, nil); err == nil {
		t.Error("Expected error for nil config")
	}

	c, err := NewGeminiClient(ctx, &ClientConfig{Provider: ProviderGemini})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.config.Model != DefaultGeminiModel {
		t.Errorf("Expected model %s, got %s", DefaultGeminiModel, c.config.Model)
	}

	c, _ = NewGeminiClient(ctx, &ClientConfig{Provider: ProviderGemini, Model: "gemini-1.5-pro"})
	if c.config.Model != "gemini-1.5-pro" {
		t.Errorf("custom model overwritten: %s", c.config.Model)
	}
}

func TestGeminiClient_MissingKey(t *testing.T) {
	ctx := context.Background()
	c, _ := NewGeminiClient(ctx, &ClientConfig{Provider: ProviderGemini})

	if _, err := c.Generate(ctx, "  ", Request{Prompt: "hi"}); !errors.Is(err, ErrNoKey) {
		t.Errorf("Expected ErrNoKey, got %v", err)
	}
	if _, err := c.ExtractTextFromImage(ctx, "", "img.png", ""); !errors.Is(err, ErrNoKey) {
		t.Errorf("Expected ErrNoKey, got %v", err)
	}
}

func TestGeminiClient_ClientPerKey(t *testing.T) {
	ctx := context.Background()
	c, _ := NewGeminiClient(ctx, &ClientConfig{Provider: ProviderGemini})

	a, err := c.clientFor(ctx, "key-a")
	if err != nil {
		t.Fatalf("clientFor: %v", err)
	}
	again, _ := c.clientFor(ctx, "key-a")
	if a != again {
		t.Error("expected the client for a key to be reused")
	}
	b, _ := c.clientFor(ctx, "key-b")
	if a == b {
		t.Error("expected a separate client per key")
	}
}

func TestGeminiClient_MissingImage(t *testing.T) {
	ctx := context.Background()
	c, _ := NewGeminiClient(ctx, &ClientConfig{Provider: ProviderGemini})
	if _, err := c.ExtractTextFromImage(ctx, "key", "/does/not/exist.png", ""); err == nil {
		t.Error("Expected error for missing image")
	}
}

func TestFirstText(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		wantErr bool
	}{
		{"nil response", nil, "", true},
		{"no candidates", &genai.GenerateContentResponse{}, "", true},
		{"nil content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}, "", true},
		{
			name: "joined parts",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: " Hello"}, {Text: " world "}}},
			}}},
			want: "Hello world",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstText(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("firstText error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("firstText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestImageMIMEType(t *testing.T) {
	tests := map[string]string{
		"scan.png":  "image/png",
		"photo.JPG": "image/jpeg",
		"pic.jpeg":  "image/jpeg",
		"anim.gif":  "image/gif",
		"noext":     "image/png",
	}
	for path, want := range tests {
		if got := imageMIMEType(path); got != want {
			t.Errorf("imageMIMEType(%q) = %q, want %q", path, got, want)
		}
	}
}

// blankGeminiServer answers every generateContent call with whitespace only.
func blankGeminiServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"   "}]}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeminiClient_BlankReply(t *testing.T) {
	ctx := context.Background()
	srv := blankGeminiServer(t)
	c, _ := NewGeminiClient(ctx, &ClientConfig{Provider: ProviderGemini, BaseURL: srv.URL})

	if _, err := c.Generate(ctx, "key", Request{Prompt: "hi"}); err == nil {
		t.Error("Expected error for blank completion")
	}

	img := filepath.Join(t.TempDir(), "blank.png")
	if err := os.WriteFile(img, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	text, err := c.ExtractTextFromImage(ctx, "key", img, "")
	if err != nil || text != "" {
		t.Errorf("ExtractTextFromImage = %q, %v; want empty text and no error", text, err)
	}
}
