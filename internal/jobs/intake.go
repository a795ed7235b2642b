package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/internal/acquire"
	"github.com/seanblong/lecturedocs/pkg/models"
)

var ErrNothingToUpload = errors.New("no files or URL provided")

// IntakeStore is the persistence job submission needs.
type IntakeStore interface {
	CreateProject(ctx context.Context, name, description string) (models.Project, error)
	DeleteProject(ctx context.Context, id string) error
	GetProject(ctx context.Context, id string) (models.Project, error)
	CreateJob(ctx context.Context, projectID string, typ models.JobType, input models.JobInput) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
}

// VideoSource turns a video URL into a transcript.
type VideoSource interface {
	VideoInfo(ctx context.Context, url string) (acquire.VideoInfo, error)
	Transcript(ctx context.Context, url string) (string, error)
}

type UploadRequest struct {
	ProjectName string   `json:"project_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Paths       []string `json:"paths,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// Intake validates submissions, stages their artifacts under UploadDir and
// creates pending jobs for the processor.
type Intake struct {
	Store     IntakeStore
	Video     VideoSource
	UploadDir string

	now   func() time.Time
	newID func() string
}

func NewIntake(store IntakeStore, video VideoSource, uploadDir string) *Intake {
	return &Intake{
		Store:     store,
		Video:     video,
		UploadDir: uploadDir,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SubmitUpload creates a project and an upload job for the given files
// and/or video URL.
func (in *Intake) SubmitUpload(ctx context.Context, req UploadRequest) (models.JobHandle, error) {
	req.URL = strings.TrimSpace(req.URL)
	if len(req.Paths) == 0 && req.URL == "" {
		return models.JobHandle{}, ErrNothingToUpload
	}

	files, err := acquire.ExpandPaths(req.Paths)
	if err != nil {
		return models.JobHandle{}, err
	}
	if len(files) == 0 && req.URL == "" {
		return models.JobHandle{}, ErrNothingToUpload
	}

	name := strings.TrimSpace(req.ProjectName)
	var transcript string
	if req.URL != "" {
		if in.Video == nil {
			return models.JobHandle{}, errors.New("video URLs are not supported by this intake")
		}
		if name == "" {
			if info, err := in.Video.VideoInfo(ctx, req.URL); err == nil {
				name = info.Title
			} else {
				log.Warn().Err(err).Str("url", req.URL).Msg("video info unavailable")
			}
		}
		transcript, err = in.Video.Transcript(ctx, req.URL)
		if err != nil {
			return models.JobHandle{}, fmt.Errorf("transcribe %s: %w", req.URL, err)
		}
	}
	if name == "" {
		name = "upload-" + in.now().UTC().Format("2006-01-02-150405")
	}

	project, err := in.Store.CreateProject(ctx, name, req.Description)
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("create project: %w", err)
	}

	job, err := in.createUploadJob(ctx, project, transcript, files)
	if err != nil {
		in.discard(ctx, project.ID)
		return models.JobHandle{}, err
	}
	log.Info().Str("job", job.ID).Str("project", project.ID).Int("artifacts", len(job.Input.Artifacts)).Msg("upload job created")
	return models.JobHandle{JobID: job.ID, ProjectID: project.ID, Status: job.Status}, nil
}

// SubmitRegenerate creates a job that rewrites a project's documentation
// from its stored chunks.
func (in *Intake) SubmitRegenerate(ctx context.Context, projectID string) (models.JobHandle, error) {
	project, err := in.Store.GetProject(ctx, projectID)
	if err != nil {
		return models.JobHandle{}, err
	}
	job, err := in.Store.CreateJob(ctx, project.ID, models.JobRegenerate, models.JobInput{ProjectName: project.Name})
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("create job: %w", err)
	}
	return models.JobHandle{JobID: job.ID, ProjectID: project.ID, Status: job.Status}, nil
}

func (in *Intake) Status(ctx context.Context, jobID string) (models.Job, error) {
	return in.Store.GetJob(ctx, jobID)
}

func (in *Intake) createUploadJob(ctx context.Context, project models.Project, transcript string, files []string) (models.Job, error) {
	var artifacts []models.Artifact
	if transcript != "" {
		p, err := in.writeTranscript(project.ID, transcript)
		if err != nil {
			return models.Job{}, err
		}
		artifacts = append(artifacts, models.Artifact{Path: p, Type: models.ArtifactTranscript})
	}
	for _, f := range files {
		p, err := in.stage(project.ID, f)
		if err != nil {
			return models.Job{}, err
		}
		artifacts = append(artifacts, models.Artifact{Path: p})
	}

	job, err := in.Store.CreateJob(ctx, project.ID, models.JobUpload, models.JobInput{
		ProjectName: project.Name,
		Artifacts:   artifacts,
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// discard removes a project whose upload job could not be created, along
// with anything already staged for it.
func (in *Intake) discard(ctx context.Context, projectID string) {
	if err := in.Store.DeleteProject(ctx, projectID); err != nil {
		log.Warn().Err(err).Str("project", projectID).Msg("delete orphaned project")
	}
	for _, p := range []string{
		filepath.Join(in.UploadDir, projectID+"_transcript.txt"),
		filepath.Join(in.UploadDir, projectID),
	} {
		if err := os.RemoveAll(p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("remove staged upload")
		}
	}
}

func (in *Intake) writeTranscript(projectID, text string) (string, error) {
	if err := os.MkdirAll(in.UploadDir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(in.UploadDir, projectID+"_transcript.txt")
	if err := os.WriteFile(p, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return p, nil
}

// stage copies src to <UploadDir>/<projectID>/<id>/<name> so that equal
// file names from different directories never collide.
func (in *Intake) stage(projectID, src string) (string, error) {
	dir := filepath.Join(in.UploadDir, projectID, in.newID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(src))

	r, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer r.Close()
	w, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	return dst, w.Close()
}
