package interfaces

import (
	"context"

	"github.com/mudler/ragscope/rag/types"
)

// Engine defines the interface for search engines
type Engine interface {
	Store(ctx context.Context, docs []types.Document) error
	Reset(ctx context.Context) error
	Search(ctx context.Context, query string, similarEntries int) ([]types.Result, error)
	Count() int
}
