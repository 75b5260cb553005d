// Package app wires the components together: configuration, logging,
// database pool and the ingestion and retrieval services.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velikanov/kbase/internal/access"
	"github.com/velikanov/kbase/internal/assistant"
	"github.com/velikanov/kbase/internal/chunk"
	"github.com/velikanov/kbase/internal/config"
	"github.com/velikanov/kbase/internal/embed"
	"github.com/velikanov/kbase/internal/ingest"
	"github.com/velikanov/kbase/internal/log"
	"github.com/velikanov/kbase/internal/retrieval"
	"github.com/velikanov/kbase/internal/store"
)

// App holds the assembled components for the lifetime of a command.
type App struct {
	Config    *config.Config
	Logger    log.Logger
	Store     *store.Store
	Assistant *assistant.Assistant
	Ingest    *ingest.Pipeline
	Retrieval *retrieval.Engine
	Access    *access.Service

	pool *pgxpool.Pool
}

// New builds the application from configuration: it validates the
// config, connects to PostgreSQL with startup retries and constructs
// every service on top of the shared pool.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	pool, err := store.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	st := store.New(pool, logger)

	embedder := embed.New(embed.Config{
		APIKey:            cfg.OpenAIAPIKey,
		Model:             cfg.EmbedderModel,
		RequestsPerSecond: cfg.EmbedderRPS,
	}, logger)

	asst := assistant.New(assistant.Config{
		APIKey:       cfg.OpenAIAPIKey,
		Model:        cfg.ModelName,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Timeout:      cfg.GenerateTimeout,
		HistoryPairs: cfg.RAG.HistoryPairs,
	}, logger)

	splitter, err := chunk.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating splitter: %w", err)
	}

	engine := retrieval.New(st, embedder, asst, retrieval.Config{
		SimilarityThreshold: cfg.RAG.SimilarityThreshold,
		TopK:                cfg.RAG.TopK,
		SnippetMaxChars:     cfg.RAG.SnippetMaxChars,
	}, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Assistant: asst,
		Ingest:    ingest.New(st, embedder, splitter, logger),
		Retrieval: engine,
		Access:    access.New(pool, logger),
		pool:      pool,
	}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	a.pool.Close()
	a.Logger.Debug("database pool closed")
}
