package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mudler/ragscope/pkg/chunk"
	"github.com/mudler/ragscope/rag/sources"
	"github.com/mudler/xlog"
)

// Manifest describes the last ingestion. It is written next to the vector
// store and tells whether the store can be reused.
type Manifest struct {
	Sources        []string  `json:"sources"`
	Documents      int       `json:"documents"`
	Chunks         int       `json:"chunks"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	EmbeddingModel string    `json:"embedding_model"`
	VectorEngine   string    `json:"vector_engine"`
	RetrievalMode  string    `json:"retrieval_mode"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// LoadManifest reads a manifest. A missing file returns an error satisfying
// os.IsNotExist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Save writes the manifest atomically.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type KnowledgeBaseOptions struct {
	ManifestPath   string
	Splitter       *chunk.Splitter
	Loader         *sources.Loader
	EmbeddingModel string
	VectorEngine   string
	RetrievalMode  string
}

// KnowledgeBase is a vector store plus the manifest of what was ingested
// into it.
type KnowledgeBase struct {
	Engine
	sync.Mutex
	opts     KnowledgeBaseOptions
	manifest *Manifest
}

func NewKnowledgeBase(store Engine, opts KnowledgeBaseOptions) (*KnowledgeBase, error) {
	if opts.Splitter == nil {
		opts.Splitter = chunk.NewSplitter(800, 100)
	}
	if opts.Loader == nil {
		opts.Loader = &sources.Loader{}
	}

	kb := &KnowledgeBase{
		Engine: store,
		opts:   opts,
	}

	m, err := LoadManifest(opts.ManifestPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		kb.manifest = m
	}

	return kb, nil
}

// Manifest returns the last ingestion, or nil when nothing was ingested.
func (kb *KnowledgeBase) Manifest() *Manifest {
	kb.Lock()
	defer kb.Unlock()
	return kb.manifest
}

// Exists reports whether a previous ingestion left a usable store: one
// built with the current chunking, embedding model, engine and retrieval
// mode.
func (kb *KnowledgeBase) Exists() bool {
	m := kb.Manifest()
	if m == nil || kb.Count() == 0 {
		return false
	}
	if reason := kb.mismatch(m); reason != "" {
		xlog.Info("Vector store was built with different settings", "setting", reason)
		return false
	}
	return true
}

// mismatch names the first setting that differs from the manifest.
func (kb *KnowledgeBase) mismatch(m *Manifest) string {
	switch {
	case m.ChunkSize != kb.opts.Splitter.Size:
		return fmt.Sprintf("chunk_size %d != %d", m.ChunkSize, kb.opts.Splitter.Size)
	case m.ChunkOverlap != kb.opts.Splitter.Overlap:
		return fmt.Sprintf("chunk_overlap %d != %d", m.ChunkOverlap, kb.opts.Splitter.Overlap)
	case m.EmbeddingModel != kb.opts.EmbeddingModel:
		return fmt.Sprintf("embedding_model %q != %q", m.EmbeddingModel, kb.opts.EmbeddingModel)
	case m.VectorEngine != kb.opts.VectorEngine:
		return fmt.Sprintf("vector_engine %q != %q", m.VectorEngine, kb.opts.VectorEngine)
	case m.RetrievalMode != kb.opts.RetrievalMode:
		return fmt.Sprintf("retrieval_mode %q != %q", m.RetrievalMode, kb.opts.RetrievalMode)
	}
	return ""
}

// Close releases the underlying store.
func (kb *KnowledgeBase) Close() error {
	return closeStore(kb.Engine)
}
