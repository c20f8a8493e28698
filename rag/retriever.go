package rag

import (
	"context"
	"strings"

	"github.com/mudler/ragscope/rag/types"
)

// Retriever returns the chunks most similar to a question.
type Retriever struct {
	store Engine
	k     int
}

func NewRetriever(store Engine, k int) *Retriever {
	return &Retriever{store: store, k: k}
}

func (r *Retriever) Retrieve(ctx context.Context, question string) ([]types.Result, error) {
	return r.store.Search(ctx, question, r.k)
}

// BuildContext joins the trimmed chunk contents with blank lines.
func BuildContext(chunks []types.Result) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = strings.TrimSpace(c.Content)
	}
	return strings.Join(parts, "\n\n")
}
