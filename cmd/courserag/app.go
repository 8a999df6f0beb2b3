package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/courserag/internal/agent"
	"github.com/kalambet/courserag/internal/config"
	"github.com/kalambet/courserag/internal/ingest"
	"github.com/kalambet/courserag/internal/llm"
	"github.com/kalambet/courserag/internal/ollama"
	"github.com/kalambet/courserag/internal/rag"
	"github.com/kalambet/courserag/internal/retrieval"
	"github.com/kalambet/courserag/internal/search"
	"github.com/kalambet/courserag/internal/session"
	"github.com/kalambet/courserag/internal/storage"
	"github.com/kalambet/courserag/internal/tools"
)

// app holds the wired components shared by serve and index.
type app struct {
	store     *storage.Store
	retriever *retrieval.Retriever
	registry  *tools.Registry
	service   *rag.Service
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// newApp opens storage and wires retrieval, tools, the model loop and the
// query service. The model client is only built when an API key is set.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	oc := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, oc, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	logger := slog.Default()
	embedder := retrieval.NewEmbedder(oc, cfg.Ollama.EmbedModel)
	retriever := retrieval.NewRetriever(embedder, retrieval.NewSQLiteStore(store.DB()))
	resolver := search.NewResolver(retriever, search.Options{
		MaxResults:    cfg.Retrieval.MaxResults,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		Logger:        logger,
	})

	registry := tools.NewRegistry()
	registry.Register(tools.NewContentSearchTool(resolver))
	registry.Register(tools.NewOutlineTool(resolver))

	var loop rag.Orchestrator
	if cfg.Anthropic.APIKey != "" {
		client := llm.NewClientWithBaseURL(cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.BaseURL)
		loop = agent.New(client, agent.Options{MaxTokens: cfg.LLM.MaxTokens, Logger: logger})
	}

	service := rag.NewService(rag.Deps{
		Loop:      loop,
		Tools:     registry,
		Sessions:  session.NewManager(cfg.Session.MaxHistory),
		Index:     retriever,
		Processor: ingest.NewProcessor(cfg.Chunk.Size, cfg.Chunk.Overlap),
		Logger:    logger,
	})

	return &app{store: store, retriever: retriever, registry: registry, service: service}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}
