package store

import (
	"context"
	"fmt"

	"github.com/seanblong/lecturedocs/pkg/models"
)

// InsertChunk writes one chunk record.
func (s *Store) InsertChunk(ctx context.Context, c models.Chunk) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chunks (
			id, project_id, job_id, content, chunk_index, source_file,
			source_type, is_code_block, start_line, end_line
		) VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,NULLIF($9,0),NULLIF($10,0))`,
		c.ID, c.ProjectID, c.JobID, c.Content, c.ChunkIndex, c.SourceFile,
		c.SourceType, c.IsCodeBlock, c.StartLine, c.EndLine)
	if err != nil {
		return fmt.Errorf("insert chunk %s: %w", c.ID, err)
	}
	return nil
}

// ListChunks returns a project's chunks in document order.
func (s *Store) ListChunks(ctx context.Context, projectID string) ([]models.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, COALESCE(job_id, ''), content, chunk_index, source_file,
		       source_type, is_code_block, COALESCE(start_line, 0), COALESCE(end_line, 0), created_at
		FROM chunks
		WHERE project_id = $1
		ORDER BY source_file, chunk_index, created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.JobID, &c.Content, &c.ChunkIndex, &c.SourceFile,
			&c.SourceType, &c.IsCodeBlock, &c.StartLine, &c.EndLine, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteJobChunks removes chunk records written by an earlier attempt of
// the job.
func (s *Store) DeleteJobChunks(ctx context.Context, jobID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
