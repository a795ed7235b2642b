// Package rag answers questions and writes project documentation from
// indexed chunks.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/internal/ai"
	"github.com/seanblong/lecturedocs/pkg/models"
)

const (
	DocumentationChunks    = 20
	DocumentationMaxTokens = 3000
	AnswerTopK             = 5
	AnswerMaxTokens        = 500
	HistoryTurns           = 10
	Temperature            = 0.7

	// ProviderNone is reported when an answer was produced without calling
	// any provider.
	ProviderNone = "none"

	NoContextResponse = "I don't have any context about this project yet. Please make sure the files were processed correctly."
)

var ErrEmptyQuery = errors.New("query must not be empty")

// Retriever finds the chunks of a project nearest to a query.
type Retriever interface {
	SearchText(ctx context.Context, projectID, query string, topK int) ([]models.SearchHit, error)
}

// Generator produces text, reporting which provider served the call.
type Generator interface {
	Generate(ctx context.Context, req ai.Request) (ai.Completion, error)
}

type Orchestrator struct {
	Retriever Retriever
	Generator Generator
}

// NewOrchestrator creates a new orchestrator with the provided index and generator
func NewOrchestrator(retriever Retriever, generator Generator) *Orchestrator {
	return &Orchestrator{
		Retriever: retriever,
		Generator: generator,
	}
}

// GenerateDocumentation summarizes the first chunks of a project into a
// Markdown document. No retrieval is involved.
func (o *Orchestrator) GenerateDocumentation(ctx context.Context, chunks []models.Chunk, projectName string) (string, error) {
	if len(chunks) > DocumentationChunks {
		chunks = chunks[:DocumentationChunks]
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}

	res, err := o.Generator.Generate(ctx, ai.Request{
		Prompt:      documentationPrompt(projectName, strings.Join(parts, "\n\n")),
		System:      documentationSystemPrompt,
		MaxTokens:   DocumentationMaxTokens,
		Temperature: Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate documentation for %s: %w", projectName, err)
	}
	log.Info().Str("project", projectName).Int("chunks", len(chunks)).Str("provider", string(res.Provider)).Msg("generated documentation")
	return res.Text, nil
}

// Search returns the k chunks of a project closest to q.
func (o *Orchestrator) Search(ctx context.Context, projectID, q string, k int) ([]models.SearchHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	return o.Retriever.SearchText(ctx, projectID, q, k)
}

// Answer retrieves the chunks nearest to query and asks the generator to
// answer from them. With nothing retrieved the generator is not called.
func (o *Orchestrator) Answer(ctx context.Context, projectID, query string, history []models.ChatTurn) (models.ChatAnswer, error) {
	hits, err := o.Search(ctx, projectID, query, AnswerTopK)
	if err != nil {
		return models.ChatAnswer{}, fmt.Errorf("search project %s: %w", projectID, err)
	}
	if len(hits) == 0 {
		log.Warn().Str("project", projectID).Msg("no context found for query")
		return models.ChatAnswer{
			Query:    query,
			Response: NoContextResponse,
			Sources:  []models.SearchHit{},
			Provider: ProviderNone,
		}, nil
	}

	if len(history) > HistoryTurns {
		history = history[len(history)-HistoryTurns:]
	}
	res, err := o.Generator.Generate(ctx, ai.Request{
		Prompt:      strings.TrimSpace(query),
		System:      chatSystemPrompt(hitContext(hits), history),
		MaxTokens:   AnswerMaxTokens,
		Temperature: Temperature,
	})
	if err != nil {
		return models.ChatAnswer{}, fmt.Errorf("answer query: %w", err)
	}
	return models.ChatAnswer{
		Query:    query,
		Response: res.Text,
		Sources:  hits,
		Provider: string(res.Provider),
	}, nil
}
