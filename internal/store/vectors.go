package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/lecturedocs/pkg/models"
)

// EnsureCollection registers a project namespace. It is idempotent.
func (s *Store) EnsureCollection(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collections (project_id) VALUES ($1)
		ON CONFLICT (project_id) DO NOTHING`, projectID)
	return err
}

// Upsert writes all entries in one transaction.
func (s *Store) Upsert(ctx context.Context, projectID string, entries []models.IndexEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	b := &pgx.Batch{}
	for _, e := range entries {
		b.Queue(`
			INSERT INTO index_entries (project_id, chunk_id, content, source_file, chunk_index, is_code, embedding)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (project_id, chunk_id) DO UPDATE SET
				content     = EXCLUDED.content,
				source_file = EXCLUDED.source_file,
				chunk_index = EXCLUDED.chunk_index,
				is_code     = EXCLUDED.is_code,
				embedding   = EXCLUDED.embedding`,
			projectID, e.ChunkID, e.Text, e.Metadata.SourceFile, e.Metadata.ChunkIndex,
			e.Metadata.IsCode, pgvector.NewVector(e.Vector))
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("write index entries: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Search returns the topK entries of a project nearest to vector by cosine
// distance. Unknown projects yield an empty result.
func (s *Store) Search(ctx context.Context, projectID string, vector []float32, topK int) ([]models.SearchHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, content, source_file, chunk_index, is_code, embedding <=> $2::vector AS distance
		FROM index_entries
		WHERE project_id = $1
		ORDER BY distance
		LIMIT $3`, projectID, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SearchHit{}
	for rows.Next() {
		var h models.SearchHit
		if err := rows.Scan(&h.ChunkID, &h.Content, &h.Metadata.SourceFile, &h.Metadata.ChunkIndex,
			&h.Metadata.IsCode, &h.Distance); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
