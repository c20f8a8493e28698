package types

import "sort"

// Reranker defines the interface for reranking search results
type Reranker interface {
	// Rerank takes a query and a list of results, and returns a reranked list
	Rerank(query string, results []Result) ([]Result, error)
}

// BasicReranker orders results by their combined score, highest first.
// Ties keep their incoming order.
type BasicReranker struct{}

// NewBasicReranker creates a new BasicReranker instance
func NewBasicReranker() *BasicReranker {
	return &BasicReranker{}
}

func (r *BasicReranker) Rerank(query string, results []Result) ([]Result, error) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})
	return results, nil
}
