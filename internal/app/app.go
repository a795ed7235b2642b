// Package app assembles the pipeline components from one configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/internal/acquire"
	"github.com/seanblong/lecturedocs/internal/ai"
	"github.com/seanblong/lecturedocs/internal/chunker"
	"github.com/seanblong/lecturedocs/internal/config"
	"github.com/seanblong/lecturedocs/internal/embedding"
	"github.com/seanblong/lecturedocs/internal/index"
	"github.com/seanblong/lecturedocs/internal/jobs"
	"github.com/seanblong/lecturedocs/internal/parser"
	"github.com/seanblong/lecturedocs/internal/rag"
	"github.com/seanblong/lecturedocs/internal/store"
)

// ErrNoDatabase is returned by components that need the relational store
// when no database URL is configured.
var ErrNoDatabase = errors.New("a database URL is required for jobs")

type App struct {
	Config  config.Specification
	Store   *store.Store
	Index   *index.Index
	Router  *ai.Router
	RAG     *rag.Orchestrator
	Parser  *parser.Parser
	Chunker *chunker.Chunker
	Video   *acquire.VideoTranscriber
	Intake  *jobs.Intake

	closers []func()
}

// SetupLogging points the global logger at stdout with the given level.
func SetupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	log.Logger = zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return nil
}

// RouterConfig maps the LLM settings onto the fallback router. Providers
// without keys are dropped by the router itself.
func RouterConfig(c config.LLMSpecification) ai.RouterConfig {
	primary, err := ai.ParseProvider(c.Primary)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring primary provider")
	}
	providers := []ai.ProviderConfig{
		{ClientConfig: ai.ClientConfig{Provider: ai.ProviderGemini, Model: c.GeminiModel}, Keys: c.GeminiKeys},
		{ClientConfig: ai.ClientConfig{Provider: ai.ProviderEuron, Model: c.EuronModel, BaseURL: c.EuronBaseURL}, Keys: c.EuronKeys},
		{ClientConfig: ai.ClientConfig{Provider: ai.ProviderOpenAI, Model: c.OpenAIModel, BaseURL: c.OpenAIBaseURL}, Keys: c.OpenAIKeys},
		{ClientConfig: ai.ClientConfig{Provider: ai.ProviderAnthropic, Model: c.AnthropicModel, BaseURL: c.AnthropicBaseURL}, Keys: c.AnthropicKeys},
	}
	if c.LocalEnabled {
		providers = append(providers, ai.ProviderConfig{
			ClientConfig: ai.ClientConfig{Provider: ai.ProviderLocal, Model: c.LocalModel, BaseURL: c.LocalURL},
		})
	}
	return ai.RouterConfig{
		Primary:   primary,
		Providers: providers,
		Timeout:   c.Timeout,
		RateLimit: c.RateLimit,
	}
}

// New connects to the database (when configured), migrates it and builds
// every component. Close releases what New opened.
func New(ctx context.Context, cfg config.Specification) (*App, error) {
	a := &App{Config: cfg}

	if strings.TrimSpace(cfg.Database) != "" {
		st, err := store.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.Store = st
		a.closers = append(a.closers, st.Close)
		if err := st.Migrate(ctx, cfg.Pipeline.EmbedDim); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	var emb embedding.Embedder = embedding.NewHashEmbedder(cfg.Pipeline.EmbedDim)
	if cfg.Pipeline.EmbedCacheDir != "" {
		cache, err := embedding.OpenCache(cfg.Pipeline.EmbedCacheDir, emb)
		if err != nil {
			return fmt.Errorf("open embedding cache: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := cache.Close(); err != nil {
				log.Warn().Err(err).Msg("close embedding cache")
			}
		})
		emb = cache
	}

	var backend index.Backend
	switch cfg.Pipeline.IndexBackend {
	case "memory":
		backend = index.NewMemory()
	default:
		if a.Store == nil {
			return fmt.Errorf("index backend %s: %w", cfg.Pipeline.IndexBackend, ErrNoDatabase)
		}
		backend = a.Store
	}
	a.Index = index.New(backend, emb)

	router, err := ai.NewRouter(ctx, RouterConfig(cfg.LLM))
	if err != nil {
		return fmt.Errorf("build LLM router: %w", err)
	}
	a.Router = router
	a.RAG = rag.NewOrchestrator(a.Index, router)
	log.Info().Strs("chain", providerNames(router.Chain())).Msg("LLM fallback chain")

	counter, err := chunker.NewCounter(cfg.Pipeline.Tokenizer)
	if err != nil {
		log.Warn().Err(err).Str("encoding", cfg.Pipeline.Tokenizer).Msg("tokenizer unavailable, counting words")
	}
	a.Chunker = chunker.New(chunker.Options{
		ChunkSize:    cfg.Pipeline.ChunkSize,
		Overlap:      cfg.Pipeline.ChunkOverlap,
		MinLength:    cfg.Pipeline.MinChunkLength,
		PreserveCode: cfg.Pipeline.PreserveCodeBlocks,
	}, counter)

	whisperClient := ai.NewOpenAIClient(&ai.ClientConfig{
		Provider: ai.ProviderOpenAI,
		BaseURL:  cfg.LLM.OpenAIBaseURL,
		Timeout:  cfg.LLM.Timeout,
	})
	stt := parser.NewWhisperTranscriber(whisperClient, cfg.LLM.OpenAIKeys, cfg.Parsing.WhisperModel)

	opts := parser.Options{
		Renderer: parser.NewPopplerRenderer(cfg.Parsing.RenderCommand),
		Vision:   router,
		STT:      stt,
		Timeout:  cfg.LLM.Timeout,
	}
	if cfg.Parsing.OCRCommand != "" {
		opts.OCR = parser.NewTesseractOCR(cfg.Parsing.OCRCommand, cfg.Parsing.OCRLanguage)
	}
	a.Parser = parser.New(opts)
	a.Video = acquire.NewVideoTranscriber(cfg.Parsing.YtDlpCommand, stt)

	if a.Store != nil {
		a.Intake = jobs.NewIntake(a.Store, a.Video, cfg.UploadDir)
	}
	return nil
}

// Processor builds the job processor. It needs the relational store.
func (a *App) Processor() (*jobs.Processor, error) {
	if a.Store == nil {
		return nil, ErrNoDatabase
	}
	return jobs.NewProcessor(a.Store, a.Parser, a.Chunker, a.Index, a.RAG, jobs.Options{
		Concurrency:    a.Config.Worker.Concurrency,
		PollInterval:   a.Config.Worker.PollInterval,
		LeaseTimeout:   a.Config.Worker.LeaseTimeout,
		MaxAttempts:    a.Config.Worker.MaxAttempts,
		MinChunkLength: a.Config.Pipeline.MinChunkLength,
	})
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func providerNames(chain []ai.Provider) []string {
	out := make([]string, len(chain))
	for i, p := range chain {
		out[i] = string(p)
	}
	return out
}
