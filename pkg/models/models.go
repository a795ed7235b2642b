package models

import "time"

// ArtifactType names the kind of source material an artifact holds.
type ArtifactType string

const (
	ArtifactPDF        ArtifactType = "pdf"
	ArtifactCode       ArtifactType = "code"
	ArtifactText       ArtifactType = "text"
	ArtifactImage      ArtifactType = "image"
	ArtifactAudio      ArtifactType = "audio"
	ArtifactTranscript ArtifactType = "transcript"
)

// Artifact is one uploaded or derived source file feeding a job.
type Artifact struct {
	Path string       `json:"path"`
	Type ArtifactType `json:"type,omitempty"`
}

// ExtractionFailed is the method reported when no text could be extracted.
const ExtractionFailed = "failed"

// ParsedDocument is the normalized text extracted from one artifact.
type ParsedDocument struct {
	Content  string       `json:"content"`
	Type     ArtifactType `json:"type"`
	Method   string       `json:"extraction_method"`
	Language string       `json:"language,omitempty"`
	Pages    int          `json:"pages,omitempty"`
	Lines    int          `json:"lines,omitempty"`
	Words    int          `json:"words,omitempty"`
	// Symbols lists top-level functions and classes for code artifacts.
	Symbols []string `json:"symbols,omitempty"`
}

// Failed reports whether extraction produced nothing usable.
func (d ParsedDocument) Failed() bool {
	return d.Method == ExtractionFailed
}

type Chunk struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	JobID       string    `json:"job_id,omitempty"`
	Content     string    `json:"content"`
	ChunkIndex  int       `json:"chunk_index"`
	SourceFile  string    `json:"source_file"`
	SourceType  string    `json:"source_type"`
	IsCodeBlock bool      `json:"is_code_block"`
	StartLine   int       `json:"start_line,omitempty"`
	EndLine     int       `json:"end_line,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EntryMetadata is stored next to each vector in a project collection.
type EntryMetadata struct {
	SourceFile string `json:"source_file"`
	ChunkIndex int    `json:"chunk_index"`
	IsCode     bool   `json:"is_code"`
}

type IndexEntry struct {
	ChunkID  string        `json:"chunk_id"`
	Vector   []float32     `json:"-"`
	Text     string        `json:"text"`
	Metadata EntryMetadata `json:"metadata"`
}

// SearchHit is an index entry returned by a nearest-neighbour search.
type SearchHit struct {
	ChunkID  string        `json:"id"`
	Content  string        `json:"content"`
	Metadata EntryMetadata `json:"metadata"`
	Distance float64       `json:"distance"`
}

type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Description   string    `json:"description,omitempty"`
	Documentation string    `json:"documentation,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type JobType string

const (
	JobUpload     JobType = "upload"
	JobRegenerate JobType = "regenerate"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobInput is the payload an upload or regenerate job is created with.
type JobInput struct {
	ProjectName string     `json:"project_name"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
}

type Job struct {
	ID          string         `json:"job_id"`
	ProjectID   string         `json:"project_id"`
	Type        JobType        `json:"type"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"current_step"`
	Input       JobInput       `json:"input_data"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// JobHandle is returned to callers that create jobs.
type JobHandle struct {
	JobID     string    `json:"job_id"`
	ProjectID string    `json:"project_id"`
	Status    JobStatus `json:"status"`
}

// ChatTurn is one prior message in a conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatAnswer is the result of a retrieval-augmented question.
type ChatAnswer struct {
	Query    string      `json:"query"`
	Response string      `json:"response"`
	Sources  []SearchHit `json:"sources"`
	Provider string      `json:"provider"`
}
