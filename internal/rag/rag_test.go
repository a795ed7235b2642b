package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/lecturedocs/internal/ai"
	"github.com/seanblong/lecturedocs/internal/embedding"
	"github.com/seanblong/lecturedocs/internal/index"
	"github.com/seanblong/lecturedocs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

type MockRetriever struct {
	SearchTextFunc func(ctx context.Context, projectID, query string, topK int) ([]models.SearchHit, error)
}

func (m *MockRetriever) SearchText(ctx context.Context, projectID, query string, topK int) ([]models.SearchHit, error) {
	if m.SearchTextFunc != nil {
		return m.SearchTextFunc(ctx, projectID, query, topK)
	}
	return []models.SearchHit{}, nil
}

type MockGenerator struct {
	GenerateFunc func(ctx context.Context, req ai.Request) (ai.Completion, error)
	requests     []ai.Request
}

func (m *MockGenerator) Generate(ctx context.Context, req ai.Request) (ai.Completion, error) {
	m.requests = append(m.requests, req)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return ai.Completion{Text: "generated", Provider: ai.ProviderGemini}, nil
}

func makeChunks(n int) []models.Chunk {
	out := make([]models.Chunk, n)
	for i := range out {
		out[i] = models.Chunk{ID: fmt.Sprintf("c%d", i), Content: fmt.Sprintf("chunk body %d", i), ChunkIndex: i, SourceFile: "notes.md"}
	}
	return out
}

func TestGenerateDocumentationUsesFirstChunks(t *testing.T) {
	gen := &MockGenerator{}
	o := NewOrchestrator(&MockRetriever{}, gen)

	doc, err := o.GenerateDocumentation(context.Background(), makeChunks(25), "Algorithms")
	require.NoError(t, err)
	assert.Equal(t, "generated", doc)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, documentationSystemPrompt, req.System)
	assert.Equal(t, DocumentationMaxTokens, req.MaxTokens)
	assert.Equal(t, Temperature, req.Temperature)
	assert.True(t, strings.HasPrefix(req.Prompt, "Project: Algorithms\n"))
	assert.Contains(t, req.Prompt, "chunk body 0\n\nchunk body 1")
	assert.Contains(t, req.Prompt, "chunk body 19")
	assert.NotContains(t, req.Prompt, "chunk body 20")
}

func TestGenerateDocumentationError(t *testing.T) {
	gen := &MockGenerator{GenerateFunc: func(context.Context, ai.Request) (ai.Completion, error) {
		return ai.Completion{}, ai.ErrNoProviders
	}}
	_, err := NewOrchestrator(&MockRetriever{}, gen).GenerateDocumentation(context.Background(), makeChunks(1), "p")
	assert.ErrorIs(t, err, ai.ErrNoProviders)
}

func TestAnswerWithoutContextSkipsGenerator(t *testing.T) {
	gen := &MockGenerator{}
	o := NewOrchestrator(&MockRetriever{}, gen)

	ans, err := o.Answer(context.Background(), "p1", "what is a heap?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoContextResponse, ans.Response)
	assert.Equal(t, ProviderNone, ans.Provider)
	assert.NotNil(t, ans.Sources)
	assert.Empty(t, ans.Sources)
	assert.Empty(t, gen.requests)
}

func TestAnswer(t *testing.T) {
	hits := []models.SearchHit{
		{ChunkID: "a", Content: "A heap is a tree.", Metadata: models.EntryMetadata{SourceFile: "ds.md"}, Distance: 0.1},
		{ChunkID: "b", Content: "Heaps support push and pop.", Metadata: models.EntryMetadata{SourceFile: "ds.md", ChunkIndex: 1}, Distance: 0.2},
	}
	var gotTopK int
	var gotQuery string
	retriever := &MockRetriever{SearchTextFunc: func(_ context.Context, projectID, query string, topK int) ([]models.SearchHit, error) {
		assert.Equal(t, "p1", projectID)
		gotQuery, gotTopK = query, topK
		return hits, nil
	}}
	gen := &MockGenerator{GenerateFunc: func(context.Context, ai.Request) (ai.Completion, error) {
		return ai.Completion{Text: "A heap is a tree [source: ds.md#a]", Provider: ai.ProviderEuron}, nil
	}}

	var history []models.ChatTurn
	for i := 0; i < 12; i++ {
		history = append(history, models.ChatTurn{Role: "user", Content: fmt.Sprintf("turn-%02d", i)})
	}

	ans, err := NewOrchestrator(retriever, gen).Answer(context.Background(), "p1", "  what is a heap?  ", history)
	require.NoError(t, err)
	assert.Equal(t, "what is a heap?", gotQuery)
	assert.Equal(t, AnswerTopK, gotTopK)
	assert.Equal(t, "A heap is a tree [source: ds.md#a]", ans.Response)
	assert.Equal(t, "euron", ans.Provider)
	assert.Equal(t, hits, ans.Sources)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, "what is a heap?", req.Prompt)
	assert.Equal(t, AnswerMaxTokens, req.MaxTokens)
	assert.Contains(t, req.System, "[source: ds.md#a]\nA heap is a tree.")
	assert.Contains(t, req.System, "[source: filename#chunk-id]")
	assert.NotContains(t, req.System, "turn-01")
	assert.Contains(t, req.System, "user: turn-02")
	assert.Contains(t, req.System, "user: turn-11")
	assert.Less(t, strings.Index(req.System, "Context:"), strings.Index(req.System, "Conversation so far:"))
}

func TestAnswerErrors(t *testing.T) {
	boom := errors.New("index offline")
	o := NewOrchestrator(&MockRetriever{SearchTextFunc: func(context.Context, string, string, int) ([]models.SearchHit, error) {
		return nil, boom
	}}, &MockGenerator{})
	_, err := o.Answer(context.Background(), "p", "q", nil)
	assert.ErrorIs(t, err, boom)

	_, err = o.Answer(context.Background(), "p", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	o = NewOrchestrator(&MockRetriever{SearchTextFunc: func(context.Context, string, string, int) ([]models.SearchHit, error) {
		return []models.SearchHit{{ChunkID: "x", Content: "ctx"}}, nil
	}}, &MockGenerator{GenerateFunc: func(context.Context, ai.Request) (ai.Completion, error) {
		return ai.Completion{}, ai.ErrNoProviders
	}})
	_, err = o.Answer(context.Background(), "p", "q", nil)
	assert.ErrorIs(t, err, ai.ErrNoProviders)
}

func TestAnswerAgainstMemoryIndex(t *testing.T) {
	ctx := context.Background()
	ix := index.New(index.NewMemory(), embedding.NewHashEmbedder(64))
	chunks := makeChunks(8)
	require.NoError(t, ix.Upsert(ctx, "p1", chunks))
	require.NoError(t, ix.Upsert(ctx, "p2", []models.Chunk{{ID: "other", Content: "chunk body 3"}}))

	o := NewOrchestrator(ix, &MockGenerator{})
	ans, err := o.Answer(ctx, "p1", "chunk body 3", nil)
	require.NoError(t, err)
	require.Len(t, ans.Sources, AnswerTopK)
	assert.Equal(t, "c3", ans.Sources[0].ChunkID)
	for _, s := range ans.Sources {
		assert.NotEqual(t, "other", s.ChunkID)
	}
	assert.Equal(t, "gemini", ans.Provider)

	ans, err = o.Answer(ctx, "unknown", "chunk body 3", nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderNone, ans.Provider)
}

func TestChatSystemPromptDefaultsRole(t *testing.T) {
	p := chatSystemPrompt("ctx", []models.ChatTurn{{Content: " hi "}, {Role: "assistant", Content: "hello"}})
	assert.Contains(t, p, "user: hi\nassistant: hello\n")
}
