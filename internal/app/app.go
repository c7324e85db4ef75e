// Package app assembles DocChat's components from a Config. Nothing here
// runs at import time: the binaries call Build once at startup and Close on
// the way out.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/docchat/internal/chunker"
	"github.com/dharsanguruparan/docchat/internal/config"
	"github.com/dharsanguruparan/docchat/internal/database"
	"github.com/dharsanguruparan/docchat/internal/embedding"
	"github.com/dharsanguruparan/docchat/internal/index"
	"github.com/dharsanguruparan/docchat/internal/ingest"
	"github.com/dharsanguruparan/docchat/internal/llm"
	pdfutil "github.com/dharsanguruparan/docchat/internal/pdf"
	"github.com/dharsanguruparan/docchat/internal/processing"
	"github.com/dharsanguruparan/docchat/internal/query"
	"github.com/dharsanguruparan/docchat/internal/queue"
	"github.com/dharsanguruparan/docchat/internal/repository"
	"github.com/dharsanguruparan/docchat/internal/s3storage"
	"github.com/dharsanguruparan/docchat/internal/server"
	"github.com/dharsanguruparan/docchat/internal/storage"
)

const (
	generatorTemperature = 0.2
	generatorMaxTokens   = 512
	hashingDimensions    = 384
	embedBurst           = 4
)

// App holds every long-lived component.
type App struct {
	Config    *config.Config
	Documents storage.DocumentStore
	Sessions  storage.SessionStore
	Blobs     storage.BlobStore
	Index     index.Index
	Embedder  embedding.Embedder
	Generator llm.Generator
	Pipeline  *ingest.Pipeline
	Router    *query.Router
	// Processor is the in-process worker pool; nil when ingestion jobs go
	// through the asynq queue instead.
	Processor *processing.Processor

	closers []func() error
}

// Build connects the backends named in cfg and wires the pipeline and
// router on top of them. On error, anything already opened is closed.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.buildStores(ctx); err != nil {
		return nil, err
	}
	if err := a.buildBlobs(ctx); err != nil {
		return nil, err
	}
	if err := a.buildIndex(ctx); err != nil {
		return nil, err
	}
	if err := a.buildModels(); err != nil {
		return nil, err
	}

	var dispatcher ingest.Dispatcher
	switch cfg.Dispatcher {
	case config.BackendAsynq:
		client := asynq.NewClient(RedisOpt(cfg))
		a.closers = append(a.closers, client.Close)
		dispatcher = queue.NewDispatcher(client)
	default:
		a.Processor = processing.New(cfg.IngestWorkers)
		dispatcher = a.Processor
	}

	a.Pipeline = ingest.New(ingest.Deps{
		Documents:  a.Documents,
		Blobs:      a.Blobs,
		Extractor:  pdfutil.NewExtractor(),
		Splitter:   chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		Embedder:   a.Embedder,
		Index:      a.Index,
		Dispatcher: dispatcher,
	}, ingest.Options{MaxFileSize: cfg.MaxFileSize, Allowed: cfg.AllowsType})
	a.Router = query.New(query.Deps{
		Documents: a.Documents,
		Sessions:  a.Sessions,
		Embedder:  a.Embedder,
		Index:     a.Index,
		Generator: a.Generator,
	}, cfg.TopK)
	log.Printf("app: store=%s index=%s blobs=%s dispatcher=%s embedder=%s generator=%s",
		cfg.Store, cfg.Index, cfg.Blobs, cfg.Dispatcher, cfg.Embedder, cfg.Generator)
	return a, nil
}

// Start launches the in-process ingestion workers, if any, on ctx, and
// re-dispatches documents a previous process left ingesting. Queued
// deployments skip the resume since their jobs outlive the process.
func (a *App) Start(ctx context.Context) {
	if a.Processor == nil {
		return
	}
	a.Processor.Start(ctx, a.Pipeline)
	if _, err := a.Pipeline.Resume(ctx); err != nil {
		log.Printf("app: resume interrupted ingestion: %v", err)
	}
}

// Server returns the HTTP server for this app.
func (a *App) Server() (*server.Server, error) {
	return server.New(a.Config, server.Deps{
		Documents: a.Documents,
		Sessions:  a.Sessions,
		Blobs:     a.Blobs,
		Ingester:  a.Pipeline,
		Answerer:  a.Router,
	})
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RedisOpt is the asynq connection described by cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func (a *App) buildStores(ctx context.Context) error {
	switch a.Config.Store {
	case config.BackendPostgres:
		pool, err := database.Connect(ctx, a.Config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.Documents = repository.NewDocumentRepository(pool)
		a.Sessions = repository.NewSessionRepository(pool)
	default:
		docs := storage.NewMemoryDocumentStore()
		a.Documents = docs
		a.Sessions = storage.NewMemorySessionStore(docs)
	}
	return nil
}

func (a *App) buildBlobs(ctx context.Context) error {
	switch a.Config.Blobs {
	case config.BackendMinio:
		s3, err := s3storage.New(a.Config)
		if err != nil {
			return fmt.Errorf("init object storage: %w", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		a.Blobs = s3
	default:
		local, err := storage.NewLocalBlobStore(a.Config.UploadDir)
		if err != nil {
			return fmt.Errorf("init upload dir: %w", err)
		}
		a.Blobs = local
	}
	return nil
}

func (a *App) buildIndex(ctx context.Context) error {
	switch a.Config.Index {
	case config.BackendSQLite:
		db, err := index.OpenSQLite(ctx, a.Config.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite index: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Index = db
	case config.BackendQdrant:
		a.Index = index.NewQdrant(index.QdrantConfig{
			URL:        a.Config.QdrantURL,
			APIKey:     a.Config.QdrantAPIKey,
			Collection: a.Config.QdrantCollection,
			Timeout:    a.Config.UpstreamTimeout,
		})
	default:
		a.Index = index.NewMemory()
	}
	return nil
}

func (a *App) buildModels() error {
	cfg := a.Config
	switch cfg.Embedder {
	case config.BackendOpenAI:
		e, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.EmbedModel,
			Timeout: cfg.UpstreamTimeout,
		})
		if err != nil {
			return err
		}
		a.Embedder = e
	case config.BackendHashing:
		a.Embedder = embedding.NewHashing(hashingDimensions)
	default:
		a.Embedder = embedding.NewOllama(embedding.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.EmbedModel,
			Timeout: cfg.UpstreamTimeout,
		})
	}
	if cfg.EmbedRPS > 0 {
		a.Embedder = embedding.NewRateLimited(a.Embedder, cfg.EmbedRPS, embedBurst)
	}

	switch cfg.Generator {
	case config.BackendOpenAI:
		g, err := llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.LLMModel,
			MaxTokens:   generatorMaxTokens,
			Temperature: generatorTemperature,
			Timeout:     cfg.UpstreamTimeout,
		})
		if err != nil {
			return err
		}
		a.Generator = g
	default:
		a.Generator = llm.NewOllama(llm.OllamaConfig{
			BaseURL:     cfg.OllamaURL,
			Model:       cfg.LLMModel,
			Timeout:     cfg.UpstreamTimeout,
			Temperature: generatorTemperature,
		})
	}
	return nil
}
