package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/seanblong/lecturedocs/pkg/models"
)

const uniqueViolation = "23505"

// CreateProject inserts a project with a slug that is unique across
// projects, suffixing -1, -2, ... on collision.
func (s *Store) CreateProject(ctx context.Context, name, description string) (models.Project, error) {
	base := Slugify(name)
	p := models.Project{ID: uuid.NewString(), Name: name, Description: description}

	for attempt := 0; attempt < 5; attempt++ {
		slug, err := s.nextFreeSlug(ctx, base)
		if err != nil {
			return models.Project{}, err
		}
		p.Slug = slug
		err = s.pool.QueryRow(ctx, `
			INSERT INTO projects (id, name, slug, description)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at`,
			p.ID, p.Name, p.Slug, p.Description,
		).Scan(&p.CreatedAt)
		if err == nil {
			return p, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			continue
		}
		return models.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return models.Project{}, fmt.Errorf("could not allocate a unique slug for %q", name)
}

func (s *Store) nextFreeSlug(ctx context.Context, base string) (string, error) {
	slug := base
	for n := 1; ; n++ {
		var taken bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE slug = $1)`, slug).Scan(&taken); err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}

func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, slug, description, documentation, created_at
		FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.Documentation, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return models.Project{}, err
	}
	return p, nil
}

// DeleteProject removes a project together with its jobs and chunks.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveDocumentation replaces the generated documentation of a project.
func (s *Store) SaveDocumentation(ctx context.Context, projectID, doc string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects SET documentation = $2, updated_at = now() WHERE id = $1`,
		projectID, doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return nil
}
