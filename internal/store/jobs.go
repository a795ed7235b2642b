package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/seanblong/lecturedocs/pkg/models"
)

// ClaimProgress is the progress recorded when a job is claimed.
const ClaimProgress = 10

const jobColumns = `id, project_id, type, status, progress, current_step, input_data,
	COALESCE(result, 'null'::jsonb), error, attempts, created_at, started_at, completed_at`

func (s *Store) CreateJob(ctx context.Context, projectID string, typ models.JobType, input models.JobInput) (models.Job, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal job input: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, project_id, type, status, input_data)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING `+jobColumns,
		uuid.NewString(), projectID, string(typ), raw)
	return scanJob(row)
}

func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// ClaimPendingJobs atomically moves up to limit pending jobs, oldest first,
// to processing. Concurrent workers never claim the same job.
func (s *Store) ClaimPendingJobs(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs SET
			status       = 'processing',
			progress     = $2,
			current_step = 'Starting',
			error        = '',
			started_at   = now(),
			heartbeat_at = now(),
			attempts     = attempts + 1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, limit, ClaimProgress)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobProgress records progress and refreshes the heartbeat.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, progress int, step string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET progress = $2, current_step = $3, heartbeat_at = now()
		WHERE id = $1 AND status = 'processing'`, id, progress, step)
	return err
}

func (s *Store) Heartbeat(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET heartbeat_at = now() WHERE id = $1 AND status = 'processing'`, id)
	return err
}

func (s *Store) CompleteJob(ctx context.Context, id string, result map[string]any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status       = 'completed',
			progress     = 100,
			current_step = 'Completed',
			result       = $2,
			completed_at = now()
		WHERE id = $1 AND status = 'processing'`, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job %s: %w", id, ErrNotProcessing)
	}
	return nil
}

// FailJob records msg verbatim. Progress keeps its last value.
func (s *Store) FailJob(ctx context.Context, id, msg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'failed', error = $2, completed_at = now()
		WHERE id = $1 AND status = 'processing'`, id, msg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail job %s: %w", id, ErrNotProcessing)
	}
	return nil
}

// RequeueStaleJobs handles processing jobs whose heartbeat is older than
// lease. Jobs that have used maxAttempts claims are failed; the rest go back
// to pending.
func (s *Store) RequeueStaleJobs(ctx context.Context, lease time.Duration, maxAttempts int) (requeued, failed int, err error) {
	secs := lease.Seconds()

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status       = 'failed',
			error        = format('lease expired after %s attempts', attempts),
			completed_at = now()
		WHERE status = 'processing'
		  AND heartbeat_at < now() - make_interval(secs => $1)
		  AND attempts >= $2`, secs, maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	failed = int(tag.RowsAffected())

	tag, err = s.pool.Exec(ctx, `
		UPDATE jobs SET
			status       = 'pending',
			current_step = 'Requeued after lease expiry'
		WHERE status = 'processing'
		  AND heartbeat_at < now() - make_interval(secs => $1)
		  AND attempts < $2`, secs, maxAttempts)
	if err != nil {
		return 0, failed, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), failed, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		j            models.Job
		typ, status  string
		input, extra []byte
	)
	err := row.Scan(&j.ID, &j.ProjectID, &typ, &status, &j.Progress, &j.CurrentStep, &input,
		&extra, &j.Error, &j.Attempts, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return models.Job{}, err
	}
	j.Type = models.JobType(typ)
	j.Status = models.JobStatus(status)
	if err := json.Unmarshal(input, &j.Input); err != nil {
		return models.Job{}, fmt.Errorf("decode input of job %s: %w", j.ID, err)
	}
	if err := json.Unmarshal(extra, &j.Result); err != nil {
		return models.Job{}, fmt.Errorf("decode result of job %s: %w", j.ID, err)
	}
	return j, nil
}
