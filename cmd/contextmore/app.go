package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/contextmore/internal/chunker"
	"github.com/kalambet/contextmore/internal/config"
	"github.com/kalambet/contextmore/internal/embedding"
	"github.com/kalambet/contextmore/internal/engine"
	"github.com/kalambet/contextmore/internal/extract"
	"github.com/kalambet/contextmore/internal/ingest"
	"github.com/kalambet/contextmore/internal/registry"
	"github.com/kalambet/contextmore/internal/retrieval"
	"github.com/kalambet/contextmore/internal/storage"
	"github.com/kalambet/contextmore/internal/vectorstore"
)

// app is the in-process service graph shared by serve and mcp.
type app struct {
	cfg       config.Config
	store     *storage.Store
	vectors   vectorstore.VectorStore
	registry  *registry.Registry
	pipeline  *ingest.Pipeline
	retriever *retrieval.Retriever
	worker    *ingest.Worker
	logger    *slog.Logger
}

// newApp wires storage, the embedding backend and the vector store.
// Model pull progress is written to progress.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, progress io.Writer) (*app, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.Embedding.Provider,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting embedding backend: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Embedding.Model, progress); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{cfg: cfg, store: store, logger: logger}

	if cfg.Recovery.Enabled {
		n, err := store.RecoverInflight()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("recovering interrupted updates: %w", err)
		}
		if n > 0 {
			logger.Warn("interrupted updates queued for replay", "count", n)
		}
	}

	adapter := embedding.NewAdapter(eng, cfg.Embedding.Model, embedding.Options{
		TargetDim:   cfg.Vector.Size,
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		Logger:      logger,
	})
	dim, err := adapter.Dimension(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("probing embedding dimension: %w", err)
	}

	switch cfg.Vector.Backend {
	case config.BackendQdrant:
		a.vectors = vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    cfg.Qdrant.Timeout,
		})
	default:
		a.vectors = vectorstore.NewSQLiteStore(store.DB())
	}
	if err := a.vectors.Init(ctx, dim); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing %s vector store: %w", cfg.Vector.Backend, err)
	}
	logger.Info("vector store ready", "backend", cfg.Vector.Backend, "dimension", dim, "model", adapter.Model())

	a.registry = registry.New(a.vectors, registry.WithLogger(logger))
	fetcher := extract.NewFetcher(extract.FetcherConfig{
		Timeout:           cfg.Fetch.Timeout,
		MaxBytes:          int64(cfg.Fetch.MaxBytes),
		RequestsPerSecond: cfg.Fetch.RateLimit,
		Logger:            logger,
	})
	a.pipeline = ingest.NewPipeline(a.registry, a.vectors, adapter,
		ingest.WithChunker(chunker.New(cfg.Chunking.WordsPerChunk)),
		ingest.WithJournal(store),
		ingest.WithFetcher(fetcher),
		ingest.WithLogger(logger),
	)
	a.retriever = retrieval.NewRetriever(adapter, a.vectors, logger)
	if cfg.Recovery.Enabled {
		a.worker = ingest.NewWorker(store, a.pipeline, cfg.Recovery.PollInterval)
	}
	return a, nil
}

// runWorker replays interrupted updates until ctx is done. It is a no-op
// when recovery is disabled.
func (a *app) runWorker(ctx context.Context) {
	if a.worker == nil {
		return
	}
	a.worker.Run(ctx)
}

func (a *app) Close() error {
	return a.store.Close()
}
