package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caseforge/retrieval/internal/classify"
	"github.com/caseforge/retrieval/internal/config"
	"github.com/caseforge/retrieval/internal/embedder"
	"github.com/caseforge/retrieval/internal/engine"
	"github.com/caseforge/retrieval/internal/metrics"
	"github.com/caseforge/retrieval/internal/store"
	"github.com/caseforge/retrieval/internal/store/qdrantpg"
	"github.com/caseforge/retrieval/internal/store/sqlite"
)

// app bundles the wired components behind one cleanup handle.
type app struct {
	cfg    *config.Config
	engine *engine.Engine
	store  store.RecordStore
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
}

// buildApp loads configuration and wires the store, embedder, classifier,
// and engine for one CLI invocation.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var emb embedder.Embedder
	if cfg.HashEmbedder {
		emb = embedder.NewHashEmbedder(cfg.EmbeddingDimension)
	} else {
		emb = embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL:   cfg.OllamaURL,
			Model:     cfg.OllamaEmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		})
	}

	classifier := classify.New()
	if cfg.DomainTablePath != "" {
		table, err := classify.LoadTable(cfg.DomainTablePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load domain table: %w", err)
		}
		classifier = classify.NewWithTable(table)
	}

	var st store.RecordStore
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err = sqlite.Open(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
	case config.BackendQdrantPG:
		st, err = qdrantpg.New(ctx, qdrantpg.Config{
			DatabaseURL: cfg.DatabaseURL,
			QdrantURL:   cfg.QdrantGRPCURL,
			Collection:  cfg.QdrantCollection,
			Dimension:   emb.Dimension(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to qdrant backend: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	opts := []engine.Option{
		engine.WithLogger(slog.Default()),
		engine.WithClassifier(classifier),
		engine.WithEmbedTimeout(cfg.EmbedTimeout),
	}
	if cfg.MetricsEnabled {
		opts = append(opts, engine.WithMetrics(metrics.NewRecorder(prometheus.DefaultRegisterer)))
	}
	eng := engine.New(st, emb, opts...)

	return &app{cfg: cfg, engine: eng, store: st}, nil
}
