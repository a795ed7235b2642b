package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// ErrNotProcessing is returned by terminal job writes when the job has
// already left the processing state.
var ErrNotProcessing = errors.New("job is not processing")

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(schema, dim))
	return err
}

// schema takes the embedding dimension. Vector search is exact over one
// project's rows; embedding has no ANN index.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS projects (
  id            TEXT PRIMARY KEY,
  name          TEXT NOT NULL,
  slug          TEXT NOT NULL UNIQUE,
  description   TEXT NOT NULL DEFAULT '',
  documentation TEXT NOT NULL DEFAULT '',
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now(),
  updated_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
  id           TEXT PRIMARY KEY,
  project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
  type         TEXT NOT NULL,
  status       TEXT NOT NULL DEFAULT 'pending',
  progress     INT  NOT NULL DEFAULT 0,
  current_step TEXT NOT NULL DEFAULT '',
  input_data   JSONB NOT NULL DEFAULT '{}',
  result       JSONB,
  error        TEXT NOT NULL DEFAULT '',
  attempts     INT  NOT NULL DEFAULT 0,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now(),
  started_at   TIMESTAMP WITH TIME ZONE,
  heartbeat_at TIMESTAMP WITH TIME ZONE,
  completed_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS jobs_status_created_idx
  ON jobs (status, created_at);

CREATE TABLE IF NOT EXISTS chunks (
  id            TEXT PRIMARY KEY,
  project_id    TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
  job_id        TEXT,
  content       TEXT NOT NULL CHECK (length(btrim(content)) > 0),
  chunk_index   INT  NOT NULL,
  source_file   TEXT NOT NULL DEFAULT '',
  source_type   TEXT NOT NULL DEFAULT 'text',
  is_code_block BOOLEAN NOT NULL DEFAULT false,
  start_line    INT,
  end_line      INT,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_project_idx
  ON chunks (project_id, source_file, chunk_index);
CREATE INDEX IF NOT EXISTS chunks_job_idx
  ON chunks (job_id);

CREATE TABLE IF NOT EXISTS collections (
  project_id TEXT PRIMARY KEY,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS index_entries (
  project_id  TEXT NOT NULL REFERENCES collections(project_id) ON DELETE CASCADE,
  chunk_id    TEXT NOT NULL,
  content     TEXT NOT NULL,
  source_file TEXT NOT NULL DEFAULT 'unknown',
  chunk_index INT  NOT NULL DEFAULT 0,
  is_code     BOOLEAN NOT NULL DEFAULT false,
  embedding   vector(%d) NOT NULL,
  PRIMARY KEY (project_id, chunk_id)
);

DROP INDEX IF EXISTS index_entries_embedding_idx;
`

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name, collapses every run of other characters to a
// single '-', and caps the result at 100 characters.
func Slugify(name string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 100 {
		slug = strings.TrimRight(slug[:100], "-")
	}
	if slug == "" {
		slug = "project"
	}
	return slug
}
