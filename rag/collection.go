package rag

import (
	"context"
	"fmt"

	"github.com/mudler/ragscope/pkg/config"
	"github.com/mudler/ragscope/rag/engine"
	"github.com/mudler/ragscope/rag/types"
	"github.com/mudler/xlog"
)

// CollectionName is the vector store collection holding the chunks.
const CollectionName = "rag_docs"

// NewStore opens the configured vector engine, wrapped with keyword search
// when hybrid retrieval is enabled.
func NewStore(ctx context.Context, cfg *config.Config, embedder *engine.Embedder) (Engine, error) {
	var store Engine

	switch cfg.VectorEngine {
	case config.EnginePostgres:
		pg, err := engine.NewPostgresDBCollection(ctx, CollectionName, cfg.DatabaseURL, embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		store = pg
	case config.EngineChromem, "":
		chromemDB, err := engine.NewChromemDBCollection(CollectionName, cfg.ChromaDir(), embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem store: %w", err)
		}
		store = chromemDB
	default:
		return nil, fmt.Errorf("unknown vector engine %q", cfg.VectorEngine)
	}

	if cfg.RetrievalMode != config.RetrievalHybrid {
		return store, nil
	}

	hybridEngine, err := engine.NewHybridSearchEngine(store, types.NewBasicReranker(), cfg.DataDir, cfg.BM25Weight, cfg.VectorWeight)
	if err != nil {
		return nil, fmt.Errorf("failed to create hybrid search engine: %w", err)
	}
	xlog.Debug("Hybrid retrieval enabled", "bm25_weight", cfg.BM25Weight, "vector_weight", cfg.VectorWeight)

	return hybridEngine, nil
}
