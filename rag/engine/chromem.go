package engine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/mudler/ragscope/rag/types"
	"github.com/mudler/xlog"
	"github.com/philippgille/chromem-go"
)

// ChromemDB is a persistent chromem-go collection. Chunks are embedded in
// batches when stored; queries are embedded through the collection's
// embedding function.
type ChromemDB struct {
	collectionName string
	collection     *chromem.Collection
	db             *chromem.DB
	embedder       *Embedder
}

func NewChromemDBCollection(collection, path string, embedder *Embedder) (*ChromemDB, error) {
	db, err := chromem.NewPersistentDB(path, true)
	if err != nil {
		return nil, fmt.Errorf("error opening vector store at %s: %w", path, err)
	}

	chromemDB := &ChromemDB{
		collectionName: collection,
		db:             db,
		embedder:       embedder,
	}

	c, err := db.GetOrCreateCollection(collection, nil, embedder.EmbeddingFunc())
	if err != nil {
		return nil, err
	}
	chromemDB.collection = c

	xlog.Debug("Opened chromem collection", "collection", collection, "path", path, "documents", c.Count())

	return chromemDB, nil
}

func (c *ChromemDB) Count() int {
	return c.collection.Count()
}

func (c *ChromemDB) Reset(ctx context.Context) error {
	if err := c.db.DeleteCollection(c.collectionName); err != nil {
		return fmt.Errorf("error deleting collection: %w", err)
	}
	collection, err := c.db.GetOrCreateCollection(c.collectionName, nil, c.embedder.EmbeddingFunc())
	if err != nil {
		return fmt.Errorf("error creating collection: %w", err)
	}
	c.collection = collection
	return nil
}

func (c *ChromemDB) Store(ctx context.Context, docs []types.Document) error {
	if len(docs) == 0 {
		return fmt.Errorf("no documents to store")
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.Content == "" {
			return fmt.Errorf("document %q has empty content", d.ID)
		}
		texts[i] = d.Content
	}

	embeddings, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}

	documents := make([]chromem.Document, len(docs))
	for i, d := range docs {
		documents[i] = chromem.Document{
			ID:        d.ID,
			Metadata:  d.Metadata,
			Embedding: embeddings[i],
			Content:   d.Content,
		}
	}

	return c.collection.AddDocuments(ctx, documents, runtime.NumCPU())
}

func (c *ChromemDB) Search(ctx context.Context, s string, similarEntries int) ([]types.Result, error) {
	// chromem refuses to return more results than it holds
	if count := c.collection.Count(); similarEntries > count {
		similarEntries = count
	}
	if similarEntries <= 0 {
		return []types.Result{}, nil
	}

	res, err := c.collection.Query(ctx, s, similarEntries, nil, nil)
	if err != nil {
		return nil, err
	}

	results := make([]types.Result, 0, len(res))
	for _, r := range res {
		results = append(results, types.Result{
			ID:            r.ID,
			Metadata:      r.Metadata,
			Content:       r.Content,
			Similarity:    r.Similarity,
			CombinedScore: r.Similarity,
		})
	}

	return results, nil
}
