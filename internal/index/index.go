// Package index stores chunk vectors in per-project collections and answers
// nearest-neighbour queries against them.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/internal/embedding"
	"github.com/seanblong/lecturedocs/pkg/models"
)

var (
	ErrEmptyBatch      = errors.New("cannot add empty chunks to vector index")
	ErrEmptyContent    = errors.New("cannot add chunks with empty content")
	ErrEmptyEmbeddings = errors.New("failed to generate embeddings")
)

// Backend is a project-scoped vector store. Upsert is all-or-nothing and
// Search on an unknown project returns an empty result, not an error.
type Backend interface {
	EnsureCollection(ctx context.Context, projectID string) error
	Upsert(ctx context.Context, projectID string, entries []models.IndexEntry) error
	Search(ctx context.Context, projectID string, vector []float32, topK int) ([]models.SearchHit, error)
}

// Index validates batches and embeds chunk text before handing entries to
// a Backend.
type Index struct {
	backend  Backend
	embedder embedding.Embedder
}

func New(backend Backend, embedder embedding.Embedder) *Index {
	return &Index{backend: backend, embedder: embedder}
}

func (ix *Index) EnsureCollection(ctx context.Context, projectID string) error {
	return ix.backend.EnsureCollection(ctx, projectID)
}

// Upsert embeds every chunk and writes the batch to the project collection.
func (ix *Index) Upsert(ctx context.Context, projectID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return ErrEmptyBatch
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			return fmt.Errorf("chunk %s: %w", c.ID, ErrEmptyContent)
		}
		texts[i] = c.Content
	}

	vectors := ix.embedder.EmbedBatch(texts)
	entries := make([]models.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = models.IndexEntry{
			ChunkID: c.ID,
			Text:    c.Content,
			Metadata: models.EntryMetadata{
				SourceFile: sourceOrUnknown(c.SourceFile),
				ChunkIndex: c.ChunkIndex,
				IsCode:     c.IsCodeBlock,
			},
		}
		if i < len(vectors) {
			entries[i].Vector = vectors[i]
		}
	}
	return ix.UpsertEntries(ctx, projectID, entries)
}

// UpsertEntries writes entries whose vectors were computed by the caller.
func (ix *Index) UpsertEntries(ctx context.Context, projectID string, entries []models.IndexEntry) error {
	if err := validate(entries); err != nil {
		log.Error().Err(err).Str("project", projectID).Int("entries", len(entries)).Msg("rejecting index batch")
		return err
	}
	if err := ix.backend.EnsureCollection(ctx, projectID); err != nil {
		return fmt.Errorf("ensure collection %s: %w", projectID, err)
	}
	if err := ix.backend.Upsert(ctx, projectID, entries); err != nil {
		return fmt.Errorf("upsert %d entries into %s: %w", len(entries), projectID, err)
	}
	log.Info().Str("project", projectID).Int("entries", len(entries)).Msg("indexed chunks")
	return nil
}

func (ix *Index) Search(ctx context.Context, projectID string, vector []float32, topK int) ([]models.SearchHit, error) {
	if topK <= 0 || len(vector) == 0 {
		return []models.SearchHit{}, nil
	}
	hits, err := ix.backend.Search(ctx, projectID, vector, topK)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}
	return hits, nil
}

// SearchText embeds query and searches the project collection.
func (ix *Index) SearchText(ctx context.Context, projectID, query string, topK int) ([]models.SearchHit, error) {
	return ix.Search(ctx, projectID, ix.embedder.Embed(strings.TrimSpace(query)), topK)
}

func validate(entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return ErrEmptyBatch
	}
	dim := -1
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			return fmt.Errorf("entry %s: %w", e.ChunkID, ErrEmptyContent)
		}
		if len(e.Vector) == 0 {
			return fmt.Errorf("entry %s: %w", e.ChunkID, ErrEmptyEmbeddings)
		}
		if dim >= 0 && len(e.Vector) != dim {
			return fmt.Errorf("entry %s has dimension %d, batch uses %d", e.ChunkID, len(e.Vector), dim)
		}
		dim = len(e.Vector)
	}
	return nil
}

func sourceOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
