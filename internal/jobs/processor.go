// Package jobs drives upload and regenerate jobs through parsing, chunking,
// indexing and documentation generation.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/pkg/models"
)

const (
	// MinContentLength is the trimmed length below which a parsed artifact
	// is skipped.
	MinContentLength = 10
	// MinTranscriptLength applies instead to transcript artifacts.
	MinTranscriptLength = 50

	// ProgressClaimed matches the progress recorded when a job is claimed.
	ProgressClaimed       = 10
	ProgressEmbedding     = 60
	ProgressDocumentation = 80

	StepEmbedding     = "Creating embeddings"
	StepDocumentation = "Generating documentation"

	DocumentationGenerated   = "generated"
	DocumentationPlaceholder = "placeholder"
)

var (
	ErrNoContent = errors.New("Failed to extract any content from uploaded files")
	ErrNoChunks  = errors.New("project has no chunks to document")
)

// Store is the persistence the processor needs.
type Store interface {
	ClaimPendingJobs(ctx context.Context, limit int) ([]models.Job, error)
	UpdateJobProgress(ctx context.Context, id string, progress int, step string) error
	Heartbeat(ctx context.Context, id string) error
	CompleteJob(ctx context.Context, id string, result map[string]any) error
	FailJob(ctx context.Context, id, msg string) error
	RequeueStaleJobs(ctx context.Context, lease time.Duration, maxAttempts int) (requeued, failed int, err error)

	InsertChunk(ctx context.Context, c models.Chunk) error
	ListChunks(ctx context.Context, projectID string) ([]models.Chunk, error)
	DeleteJobChunks(ctx context.Context, jobID string) (int, error)

	GetProject(ctx context.Context, id string) (models.Project, error)
	SaveDocumentation(ctx context.Context, projectID, doc string) error
}

type Parser interface {
	Parse(ctx context.Context, path string, hint models.ArtifactType) models.ParsedDocument
}

type Chunker interface {
	Chunk(text, sourceType, sourceFile string) []models.Chunk
}

type Indexer interface {
	Upsert(ctx context.Context, projectID string, chunks []models.Chunk) error
}

type Documenter interface {
	GenerateDocumentation(ctx context.Context, chunks []models.Chunk, projectName string) (string, error)
}

type Options struct {
	Concurrency    int
	PollInterval   time.Duration
	LeaseTimeout   time.Duration
	MaxAttempts    int
	MinChunkLength int
}

func (o *Options) setDefaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 10 * time.Minute
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.MinChunkLength < 1 {
		o.MinChunkLength = 5
	}
}

// Processor claims pending jobs and runs them on a bounded worker pool.
type Processor struct {
	store   Store
	parser  Parser
	chunker Chunker
	index   Indexer
	docs    Documenter
	opts    Options

	pool     *ants.Pool
	wg       sync.WaitGroup
	inflight atomic.Int32
}

func NewProcessor(store Store, parser Parser, chunker Chunker, index Indexer, docs Documenter, opts Options) (*Processor, error) {
	opts.setDefaults()
	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Processor{
		store:   store,
		parser:  parser,
		chunker: chunker,
		index:   index,
		docs:    docs,
		opts:    opts,
		pool:    pool,
	}, nil
}

// Run polls until ctx is cancelled, then waits for in-flight jobs.
func (p *Processor) Run(ctx context.Context) error {
	log.Info().Int("concurrency", p.opts.Concurrency).Dur("poll", p.opts.PollInterval).Msg("job processor started")
	defer p.pool.Release()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			p.wg.Wait()
			log.Info().Msg("job processor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll requeues expired leases, then claims as many pending jobs as there
// are idle workers and submits them. It returns the number submitted.
func (p *Processor) Poll(ctx context.Context) (int, error) {
	requeued, failed, err := p.store.RequeueStaleJobs(ctx, p.opts.LeaseTimeout, p.opts.MaxAttempts)
	if err != nil {
		log.Error().Err(err).Msg("requeue stale jobs")
	} else if requeued > 0 || failed > 0 {
		log.Warn().Int("requeued", requeued).Int("failed", failed).Msg("expired job leases")
	}

	free := p.opts.Concurrency - int(p.inflight.Load())
	if free <= 0 {
		return 0, nil
	}
	jobs, err := p.store.ClaimPendingJobs(ctx, free)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		p.wg.Add(1)
		p.inflight.Add(1)
		if err := p.pool.Submit(func() {
			defer p.wg.Done()
			defer p.inflight.Add(-1)
			p.ProcessJob(ctx, job)
		}); err != nil {
			p.inflight.Add(-1)
			p.wg.Done()
			log.Error().Err(err).Str("job", job.ID).Msg("submit job")
		}
	}
	return len(jobs), nil
}

// Wait blocks until every submitted job has returned.
func (p *Processor) Wait() { p.wg.Wait() }

// ProcessJob runs one claimed job to a terminal state. When ctx is
// cancelled mid-job the job is left processing for lease expiry to requeue.
func (p *Processor) ProcessJob(ctx context.Context, job models.Job) {
	logger := log.With().Str("job", job.ID).Str("project", job.ProjectID).Str("type", string(job.Type)).Logger()
	logger.Info().Int("attempt", job.Attempts).Msg("processing job")

	stop := p.heartbeat(ctx, job.ID, logger)
	result, err := p.run(ctx, job, logger)
	stop()

	if ctx.Err() != nil {
		logger.Warn().Err(ctx.Err()).Msg("job interrupted, leaving it for lease expiry")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("job failed")
		if ferr := p.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("record job failure")
		}
		return
	}
	if err := p.store.CompleteJob(ctx, job.ID, result); err != nil {
		logger.Error().Err(err).Msg("record job completion")
		return
	}
	logger.Info().Interface("result", result).Msg("job completed")
}

func (p *Processor) run(ctx context.Context, job models.Job, logger zerolog.Logger) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	switch job.Type {
	case models.JobUpload:
		return p.processUpload(ctx, job, logger)
	case models.JobRegenerate:
		return p.processRegenerate(ctx, job, logger)
	}
	return nil, fmt.Errorf("unknown job type %q", job.Type)
}

func (p *Processor) heartbeat(ctx context.Context, jobID string, logger zerolog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(heartbeatInterval(p.opts.LeaseTimeout))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.store.Heartbeat(ctx, jobID); err != nil && ctx.Err() == nil {
					logger.Warn().Err(err).Msg("heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// heartbeatInterval is a third of the lease, never below a millisecond.
func heartbeatInterval(lease time.Duration) time.Duration {
	if d := lease / 3; d > time.Millisecond {
		return d
	}
	return time.Millisecond
}

func (p *Processor) progress(ctx context.Context, jobID string, pct int, step string) {
	if err := p.store.UpdateJobProgress(ctx, jobID, pct, step); err != nil {
		log.Warn().Err(err).Str("job", jobID).Int("progress", pct).Msg("update progress")
	}
}

func (p *Processor) processUpload(ctx context.Context, job models.Job, logger zerolog.Logger) (map[string]any, error) {
	if n, err := p.store.DeleteJobChunks(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("delete chunks of previous attempt: %w", err)
	} else if n > 0 {
		logger.Info().Int("chunks", n).Msg("removed chunks of previous attempt")
	}

	artifacts := job.Input.Artifacts
	logger.Info().Int("artifacts", len(artifacts)).Msg("processing artifacts")

	var (
		all     []models.Chunk
		skipped []string
		failed  []string
	)
	for i, a := range artifacts {
		name := filepath.Base(a.Path)
		p.progress(ctx, job.ID, ProgressClaimed+(ProgressEmbedding-ProgressClaimed)*i/len(artifacts), "Processing "+name)

		alog := logger.With().Str("artifact", a.Path).Logger()
		chunks, err := p.processArtifact(ctx, job, a, alog)
		all = append(all, chunks...)
		switch {
		case errors.Is(err, errSkipped):
			alog.Warn().Err(err).Msg("skipping artifact")
			skipped = append(skipped, name)
		case err != nil:
			alog.Error().Err(err).Int("kept", len(chunks)).Msg("artifact failed")
			failed = append(failed, name)
		default:
			alog.Info().Int("chunks", len(chunks)).Msg("artifact processed")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if len(all) == 0 {
		return nil, ErrNoContent
	}
	logger.Info().Int("chunks", len(all)).Msg("total valid chunks")

	p.progress(ctx, job.ID, ProgressEmbedding, StepEmbedding)
	if err := p.index.Upsert(ctx, job.ProjectID, all); err != nil {
		return nil, err
	}

	p.progress(ctx, job.ID, ProgressDocumentation, StepDocumentation)
	name := projectName(job.Input.ProjectName)
	status := DocumentationGenerated
	doc, err := p.docs.GenerateDocumentation(ctx, all, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Error().Err(err).Msg("documentation generation failed, using placeholder")
		doc = PlaceholderDocumentation(name)
		status = DocumentationPlaceholder
	}
	if err := p.store.SaveDocumentation(ctx, job.ProjectID, doc); err != nil {
		return nil, fmt.Errorf("save documentation: %w", err)
	}

	return map[string]any{
		"chunks":             len(all),
		"artifacts":          len(artifacts),
		"skipped_artifacts":  nonNil(skipped),
		"failed_artifacts":   nonNil(failed),
		"documentation":      status,
		"documentation_size": len(doc),
	}, nil
}

var errSkipped = errors.New("no usable content")

// processArtifact parses, chunks and persists one artifact. Chunks written
// before an error are returned with it and stay part of the job.
func (p *Processor) processArtifact(ctx context.Context, job models.Job, a models.Artifact, logger zerolog.Logger) (kept []models.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	doc := p.parser.Parse(ctx, a.Path, a.Type)
	minLen := MinContentLength
	if doc.Type == models.ArtifactTranscript {
		minLen = MinTranscriptLength
	}
	if doc.Failed() {
		return nil, fmt.Errorf("%w: extraction failed", errSkipped)
	}
	if n := len(strings.TrimSpace(doc.Content)); n < minLen {
		return nil, fmt.Errorf("%w: %d chars", errSkipped, n)
	}
	logger.Debug().Str("method", doc.Method).Int("chars", len(doc.Content)).Msg("parsed artifact")

	for _, c := range p.chunker.Chunk(doc.Content, string(doc.Type), filepath.Base(a.Path)) {
		if utf8.RuneCountInString(strings.TrimSpace(c.Content)) < p.opts.MinChunkLength {
			logger.Warn().Int("chunk_index", c.ChunkIndex).Msg("skipping chunk below minimum length")
			continue
		}
		c.ProjectID = job.ProjectID
		c.JobID = job.ID
		if err := p.store.InsertChunk(ctx, c); err != nil {
			return kept, err
		}
		kept = append(kept, c)
	}
	return kept, nil
}

func (p *Processor) processRegenerate(ctx context.Context, job models.Job, logger zerolog.Logger) (map[string]any, error) {
	project, err := p.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	chunks, err := p.store.ListChunks(ctx, job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	p.progress(ctx, job.ID, ProgressDocumentation, StepDocumentation)
	doc, err := p.docs.GenerateDocumentation(ctx, chunks, project.Name)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveDocumentation(ctx, job.ProjectID, doc); err != nil {
		return nil, fmt.Errorf("save documentation: %w", err)
	}
	logger.Info().Int("chunks", len(chunks)).Msg("documentation regenerated")
	return map[string]any{
		"chunks":             len(chunks),
		"documentation":      DocumentationGenerated,
		"documentation_size": len(doc),
	}, nil
}

// PlaceholderDocumentation is stored when generation fails after a
// successful ingestion.
func PlaceholderDocumentation(projectName string) string {
	return fmt.Sprintf("# %s\n\nContent processed but documentation generation failed.", projectName)
}

func projectName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Project"
	}
	return name
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
