package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mudler/ragscope/pkg/chunk"
	"github.com/mudler/ragscope/pkg/metrics"
	"github.com/mudler/ragscope/rag/types"
	"github.com/mudler/xlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Ingest loads every source, splits the documents and replaces the store
// content with the resulting chunks.
func (kb *KnowledgeBase) Ingest(ctx context.Context, srcs ...string) (*Manifest, error) {
	ctx, span := tracer().Start(ctx, "rag.ingest")
	defer span.End()

	start := time.Now()
	manifest, err := kb.ingest(ctx, srcs)
	chunks := 0
	if manifest != nil {
		chunks = manifest.Chunks
	}
	metrics.RecordIngest(time.Since(start), err == nil, chunks)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("rag.documents", manifest.Documents),
		attribute.Int("rag.chunks", manifest.Chunks),
	)
	xlog.Info("Ingestion complete", "sources", srcs, "documents", manifest.Documents, "chunks", manifest.Chunks, "duration", time.Since(start))

	return manifest, nil
}

func (kb *KnowledgeBase) ingest(ctx context.Context, srcs []string) (*Manifest, error) {
	var docs []types.Document
	for _, src := range srcs {
		loaded, err := kb.opts.Loader.Load(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", src, err)
		}
		docs = append(docs, loaded...)
	}

	chunks := ChunkDocuments(docs, kb.opts.Splitter)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no .txt or .pdf files found under %s", strings.Join(srcs, ", "))
	}

	kb.Lock()
	defer kb.Unlock()

	if err := kb.Engine.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset store: %w", err)
	}
	if err := kb.Engine.Store(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	manifest := &Manifest{
		Sources:        srcs,
		Documents:      len(docs),
		Chunks:         len(chunks),
		ChunkSize:      kb.opts.Splitter.Size,
		ChunkOverlap:   kb.opts.Splitter.Overlap,
		EmbeddingModel: kb.opts.EmbeddingModel,
		VectorEngine:   kb.opts.VectorEngine,
		RetrievalMode:  kb.opts.RetrievalMode,
		IngestedAt:     time.Now().UTC(),
	}
	if err := manifest.Save(kb.opts.ManifestPath); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	kb.manifest = manifest

	return manifest, nil
}

// ChunkDocuments splits documents into chunks. A chunk keeps the metadata
// of its document plus chunk_index, and its ID is the document ID followed
// by #<index>.
func ChunkDocuments(docs []types.Document, splitter *chunk.Splitter) []types.Document {
	var chunks []types.Document
	for n, doc := range docs {
		docID := doc.ID
		if docID == "" {
			docID = doc.Metadata["source"]
		}
		if docID == "" {
			docID = "doc" + strconv.Itoa(n)
		}

		for i, piece := range splitter.Split(doc.Content) {
			metadata := make(map[string]string, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata["chunk_index"] = strconv.Itoa(i)

			chunks = append(chunks, types.Document{
				ID:       fmt.Sprintf("%s#%d", docID, i),
				Content:  piece,
				Metadata: metadata,
			})
		}
	}
	return chunks
}
