package types

// Document is a unit of text to be indexed: a loaded file (or page of a
// file) before splitting, or a chunk after splitting.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result represents a single result from a query.
type Result struct {
	ID        string            `json:"id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
	Content   string            `json:"content"`

	// The cosine similarity between the query and the document.
	// The higher the value, the more similar the document is to the query.
	// The value is in the range [-1, 1].
	Similarity float32 `json:"similarity"`

	// FullTextScore represents the score from full-text search
	// The higher the value, the more relevant the document is to the query.
	FullTextScore float32 `json:"full_text_score,omitempty"`

	// CombinedScore represents the final score after reranking
	// This is calculated by the reranker
	CombinedScore float32 `json:"combined_score,omitempty"`
}
