package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/mudler/ragscope/rag/interfaces"
	"github.com/mudler/ragscope/rag/types"
)

// HybridSearchEngine combines semantic and full-text search
type HybridSearchEngine struct {
	semanticEngine interfaces.Engine
	reranker       types.Reranker
	fullTextIndex  *FullTextIndex
	bm25Weight     float32
	vectorWeight   float32
}

// NewHybridSearchEngine creates a new hybrid search engine. The keyword
// index is kept next to the semantic store in dbPath.
func NewHybridSearchEngine(semanticEngine interfaces.Engine, reranker types.Reranker, dbPath string, bm25Weight, vectorWeight float64) (*HybridSearchEngine, error) {
	fullTextIndex, err := NewFullTextIndex(filepath.Join(dbPath, "fulltext.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to create full-text index: %w", err)
	}

	return &HybridSearchEngine{
		semanticEngine: semanticEngine,
		reranker:       reranker,
		fullTextIndex:  fullTextIndex,
		bm25Weight:     float32(bm25Weight),
		vectorWeight:   float32(vectorWeight),
	}, nil
}

// Store stores documents in both semantic and full-text indexes
func (h *HybridSearchEngine) Store(ctx context.Context, docs []types.Document) error {
	if err := h.semanticEngine.Store(ctx, docs); err != nil {
		return err
	}
	return h.fullTextIndex.Store(docs...)
}

// Reset resets both semantic and full-text indexes
func (h *HybridSearchEngine) Reset(ctx context.Context) error {
	if err := h.semanticEngine.Reset(ctx); err != nil {
		return err
	}
	return h.fullTextIndex.Reset()
}

// Count returns the number of documents in the index
func (h *HybridSearchEngine) Count() int {
	return h.semanticEngine.Count()
}

// Close closes the semantic engine when it holds resources.
func (h *HybridSearchEngine) Close() error {
	if closer, ok := h.semanticEngine.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Search performs hybrid search by combining semantic and full-text search results
func (h *HybridSearchEngine) Search(ctx context.Context, query string, similarEntries int) ([]types.Result, error) {
	semanticResults, err := h.semanticEngine.Search(ctx, query, similarEntries)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	fullTextResults := h.fullTextIndex.Search(query, similarEntries)

	combinedResults := h.combineResults(semanticResults, fullTextResults)

	rerankedResults, err := h.reranker.Rerank(query, combinedResults)
	if err != nil {
		return nil, fmt.Errorf("reranking failed: %w", err)
	}

	if len(rerankedResults) > similarEntries {
		rerankedResults = rerankedResults[:similarEntries]
	}

	return rerankedResults, nil
}

// combineResults merges both result sets by chunk ID, weighting each score.
// A result missing from one side contributes zero for that side.
func (h *HybridSearchEngine) combineResults(semanticResults, fullTextResults []types.Result) []types.Result {
	combined := make([]types.Result, 0, len(semanticResults)+len(fullTextResults))
	position := make(map[string]int)

	for _, result := range semanticResults {
		result.CombinedScore = result.Similarity * h.vectorWeight
		position[result.ID] = len(combined)
		combined = append(combined, result)
	}

	for _, result := range fullTextResults {
		if i, exists := position[result.ID]; exists {
			combined[i].FullTextScore = result.FullTextScore
			combined[i].CombinedScore += result.FullTextScore * h.bm25Weight
			continue
		}
		result.CombinedScore = result.FullTextScore * h.bm25Weight
		position[result.ID] = len(combined)
		combined = append(combined, result)
	}

	return combined
}
