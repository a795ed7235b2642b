package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seanblong/lecturedocs/internal/acquire"
	"github.com/seanblong/lecturedocs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockIntakeStore struct {
	CreateProjectFunc func(name, description string) (models.Project, error)
	GetProjectFunc    func(id string) (models.Project, error)
	CreateJobErr      error
	projects          []models.Project
	deleted           []string
	jobs              []models.Job
}

func (m *MockIntakeStore) DeleteProject(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *MockIntakeStore) CreateProject(_ context.Context, name, description string) (models.Project, error) {
	if m.CreateProjectFunc != nil {
		return m.CreateProjectFunc(name, description)
	}
	p := models.Project{ID: "proj-1", Name: name, Description: description}
	m.projects = append(m.projects, p)
	return p, nil
}

func (m *MockIntakeStore) GetProject(_ context.Context, id string) (models.Project, error) {
	if m.GetProjectFunc != nil {
		return m.GetProjectFunc(id)
	}
	return models.Project{ID: id, Name: "Existing"}, nil
}

func (m *MockIntakeStore) CreateJob(_ context.Context, projectID string, typ models.JobType, input models.JobInput) (models.Job, error) {
	if m.CreateJobErr != nil {
		return models.Job{}, m.CreateJobErr
	}
	j := models.Job{ID: "job-1", ProjectID: projectID, Type: typ, Status: models.JobPending, Input: input}
	m.jobs = append(m.jobs, j)
	return j, nil
}

func (m *MockIntakeStore) GetJob(_ context.Context, id string) (models.Job, error) {
	for _, j := range m.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return models.Job{}, errors.New("not found")
}

type MockVideo struct {
	InfoFunc       func(url string) (acquire.VideoInfo, error)
	TranscriptFunc func(url string) (string, error)
}

func (m *MockVideo) VideoInfo(_ context.Context, url string) (acquire.VideoInfo, error) {
	if m.InfoFunc != nil {
		return m.InfoFunc(url)
	}
	return acquire.VideoInfo{Title: "Intro to Graphs"}, nil
}

func (m *MockVideo) Transcript(_ context.Context, url string) (string, error) {
	if m.TranscriptFunc != nil {
		return m.TranscriptFunc(url)
	}
	return "today we talk about breadth first search and depth first search", nil
}

func newTestIntake(t *testing.T, store IntakeStore, video VideoSource) *Intake {
	t.Helper()
	in := NewIntake(store, video, t.TempDir())
	n := 0
	in.newID = func() string {
		n++
		return "id" + string(rune('0'+n))
	}
	in.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return in
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestSubmitUploadFiles(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a", "notes.md"), "# notes")
	writeFile(t, filepath.Join(src, "b", "notes.md"), "# other notes")
	writeFile(t, filepath.Join(src, "b", ".git", "HEAD"), "ref")

	store := &MockIntakeStore{}
	in := newTestIntake(t, store, nil)

	h, err := in.SubmitUpload(context.Background(), UploadRequest{
		ProjectName: "Week 1",
		Paths:       []string{filepath.Join(src, "a", "notes.md"), filepath.Join(src, "b")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobHandle{JobID: "job-1", ProjectID: "proj-1", Status: models.JobPending}, h)

	require.Len(t, store.jobs, 1)
	job := store.jobs[0]
	assert.Equal(t, models.JobUpload, job.Type)
	assert.Equal(t, "Week 1", job.Input.ProjectName)
	require.Len(t, job.Input.Artifacts, 2)
	assert.Equal(t, filepath.Join(in.UploadDir, "proj-1", "id1", "notes.md"), job.Input.Artifacts[0].Path)
	assert.Equal(t, filepath.Join(in.UploadDir, "proj-1", "id2", "notes.md"), job.Input.Artifacts[1].Path)

	body, err := os.ReadFile(job.Input.Artifacts[1].Path)
	require.NoError(t, err)
	assert.Equal(t, "# other notes", string(body))
}

func TestSubmitUploadURL(t *testing.T) {
	store := &MockIntakeStore{}
	in := newTestIntake(t, store, &MockVideo{})

	_, err := in.SubmitUpload(context.Background(), UploadRequest{URL: " https://youtu.be/abc "})
	require.NoError(t, err)

	require.Len(t, store.projects, 1)
	assert.Equal(t, "Intro to Graphs", store.projects[0].Name)
	job := store.jobs[0]
	require.Len(t, job.Input.Artifacts, 1)
	a := job.Input.Artifacts[0]
	assert.Equal(t, models.ArtifactTranscript, a.Type)
	assert.Equal(t, filepath.Join(in.UploadDir, "proj-1_transcript.txt"), a.Path)
	body, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "breadth first search")
}

func TestSubmitUploadNames(t *testing.T) {
	store := &MockIntakeStore{}
	video := &MockVideo{InfoFunc: func(string) (acquire.VideoInfo, error) { return acquire.VideoInfo{}, errors.New("offline") }}
	in := newTestIntake(t, store, video)

	_, err := in.SubmitUpload(context.Background(), UploadRequest{URL: "https://youtu.be/abc"})
	require.NoError(t, err)
	assert.Equal(t, "upload-2026-03-04-050607", store.projects[0].Name)
}

func TestSubmitUploadErrors(t *testing.T) {
	in := newTestIntake(t, &MockIntakeStore{}, nil)
	ctx := context.Background()

	_, err := in.SubmitUpload(ctx, UploadRequest{})
	assert.ErrorIs(t, err, ErrNothingToUpload)

	_, err = in.SubmitUpload(ctx, UploadRequest{Paths: []string{filepath.Join(t.TempDir(), "missing.pdf")}})
	assert.Error(t, err)

	empty := t.TempDir()
	writeFile(t, filepath.Join(empty, ".hidden"), "x")
	_, err = in.SubmitUpload(ctx, UploadRequest{Paths: []string{empty}})
	assert.ErrorIs(t, err, ErrNothingToUpload)

	_, err = in.SubmitUpload(ctx, UploadRequest{URL: "https://youtu.be/abc"})
	assert.ErrorContains(t, err, "not supported")

	store := &MockIntakeStore{}
	in = newTestIntake(t, store, &MockVideo{TranscriptFunc: func(string) (string, error) {
		return "", acquire.ErrTranscriptTooShort
	}})
	_, err = in.SubmitUpload(ctx, UploadRequest{URL: "https://youtu.be/abc"})
	assert.ErrorIs(t, err, acquire.ErrTranscriptTooShort)
	assert.Empty(t, store.projects)
}

func TestSubmitUploadCleansUpOnStagingFailure(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "notes.md"), "# notes")

	store := &MockIntakeStore{}
	in := newTestIntake(t, store, nil)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	writeFile(t, blocker, "x")
	in.UploadDir = blocker

	_, err := in.SubmitUpload(context.Background(), UploadRequest{Paths: []string{filepath.Join(src, "notes.md")}})
	require.Error(t, err)
	assert.Equal(t, []string{"proj-1"}, store.deleted)
	assert.Empty(t, store.jobs)
}

func TestSubmitUploadCleansUpOnJobFailure(t *testing.T) {
	store := &MockIntakeStore{CreateJobErr: errors.New("db down")}
	in := newTestIntake(t, store, &MockVideo{})

	_, err := in.SubmitUpload(context.Background(), UploadRequest{URL: "https://youtu.be/abc"})
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, []string{"proj-1"}, store.deleted)
	assert.NoFileExists(t, filepath.Join(in.UploadDir, "proj-1_transcript.txt"))
}

func TestSubmitRegenerateAndStatus(t *testing.T) {
	store := &MockIntakeStore{}
	in := newTestIntake(t, store, nil)

	h, err := in.SubmitRegenerate(context.Background(), "proj-9")
	require.NoError(t, err)
	assert.Equal(t, "proj-9", h.ProjectID)
	assert.Equal(t, models.JobRegenerate, store.jobs[0].Type)
	assert.Equal(t, "Existing", store.jobs[0].Input.ProjectName)

	job, err := in.Status(context.Background(), h.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)

	store.GetProjectFunc = func(id string) (models.Project, error) { return models.Project{}, errors.New("project not found") }
	_, err = in.SubmitRegenerate(context.Background(), "nope")
	assert.ErrorContains(t, err, "project not found")
}
