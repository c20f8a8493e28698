package rag_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mudler/ragscope/pkg/chunk"
	"github.com/mudler/ragscope/pkg/config"
	"github.com/mudler/ragscope/pkg/openaitest"
	. "github.com/mudler/ragscope/rag"
	"github.com/mudler/ragscope/rag/engine"
	"github.com/mudler/ragscope/rag/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ChunkDocuments", func() {
	It("should derive chunk IDs and metadata from the document", func() {
		chunks := ChunkDocuments([]types.Document{
			{
				ID:       "docs/a.pdf#p2",
				Content:  "aaa bbb ccc",
				Metadata: map[string]string{"source": "docs/a.pdf", "page": "2"},
			},
			{Content: "ddd", Metadata: map[string]string{"source": "docs/b.txt"}},
			{Content: "eee"},
		}, chunk.NewSplitter(7, 0))

		Expect(chunks).To(HaveLen(4))
		Expect(chunks[0].ID).To(Equal("docs/a.pdf#p2#0"))
		Expect(chunks[0].Content).To(Equal("aaa bbb"))
		Expect(chunks[0].Metadata).To(HaveKeyWithValue("page", "2"))
		Expect(chunks[0].Metadata).To(HaveKeyWithValue("chunk_index", "0"))
		Expect(chunks[1].ID).To(Equal("docs/a.pdf#p2#1"))
		Expect(chunks[1].Metadata).To(HaveKeyWithValue("chunk_index", "1"))
		Expect(chunks[2].ID).To(Equal("docs/b.txt#0"))
		Expect(chunks[3].ID).To(Equal("doc2#0"))
	})

	It("should not share metadata maps between chunks", func() {
		chunks := ChunkDocuments([]types.Document{
			{ID: "a", Content: "aaa bbb", Metadata: map[string]string{"source": "a"}},
		}, chunk.NewSplitter(3, 0))

		Expect(chunks).To(HaveLen(2))
		Expect(chunks[0].Metadata["chunk_index"]).To(Equal("0"))
		Expect(chunks[1].Metadata["chunk_index"]).To(Equal("1"))
	})
})

var _ = Describe("KnowledgeBase", func() {
	var (
		ctx    context.Context
		server *openaitest.Server
		cfg    *config.Config
		kb     *KnowledgeBase
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = openaitest.NewServer()
		DeferCleanup(server.Close)
		cfg = testConfig(server)

		embedder := engine.NewEmbedder(server.Client(), cfg.AzureDeploymentEmbedding)
		var err error
		kb, err = OpenKnowledgeBase(ctx, cfg, embedder)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should not exist before the first ingestion", func() {
		Expect(kb.Manifest()).To(BeNil())
		Expect(kb.Exists()).To(BeFalse())
	})

	It("should write a manifest describing the ingestion", func() {
		writeDoc(cfg.DocsDir, "a.txt", "alpha")
		writeDoc(cfg.DocsDir, "b.md", "bravo")

		manifest, err := kb.Ingest(ctx, cfg.DocsDir)
		Expect(err).ToNot(HaveOccurred())
		Expect(manifest.Sources).To(Equal([]string{cfg.DocsDir}))
		Expect(manifest.Documents).To(Equal(2))
		Expect(manifest.Chunks).To(Equal(2))
		Expect(manifest.ChunkSize).To(Equal(800))
		Expect(manifest.ChunkOverlap).To(Equal(100))
		Expect(manifest.EmbeddingModel).To(Equal("text-embedding-3-small"))
		Expect(manifest.VectorEngine).To(Equal(config.EngineChromem))
		Expect(manifest.RetrievalMode).To(Equal(config.RetrievalVector))

		loaded, err := LoadManifest(cfg.ManifestPath())
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded.Chunks).To(Equal(2))
		Expect(kb.Exists()).To(BeTrue())
	})

	It("should replace the previous content on re-ingestion", func() {
		writeDoc(cfg.DocsDir, "a.txt", "alpha")
		writeDoc(cfg.DocsDir, "b.txt", "bravo")
		_, err := kb.Ingest(ctx, cfg.DocsDir)
		Expect(err).ToNot(HaveOccurred())
		Expect(kb.Count()).To(Equal(2))

		Expect(os.Remove(filepath.Join(cfg.DocsDir, "b.txt"))).To(Succeed())
		_, err = kb.Ingest(ctx, cfg.DocsDir)
		Expect(err).ToNot(HaveOccurred())
		Expect(kb.Count()).To(Equal(1))
	})

	It("should keep the store when loading fails", func() {
		writeDoc(cfg.DocsDir, "a.txt", "alpha")
		_, err := kb.Ingest(ctx, cfg.DocsDir)
		Expect(err).ToNot(HaveOccurred())

		_, err = kb.Ingest(ctx, filepath.Join(cfg.ProjectRoot, "empty"))
		Expect(err).To(MatchError(ContainSubstring("no .txt or .pdf files found under")))
		Expect(kb.Count()).To(Equal(1))
	})

	DescribeTable("should not reuse a store built with other settings",
		func(change func(*config.Config)) {
			writeDoc(cfg.DocsDir, "a.txt", "alpha")
			_, err := kb.Ingest(ctx, cfg.DocsDir)
			Expect(err).ToNot(HaveOccurred())
			Expect(kb.Close()).To(Succeed())

			reopen := func() *KnowledgeBase {
				embedder := engine.NewEmbedder(server.Client(), cfg.AzureDeploymentEmbedding)
				kb, err := OpenKnowledgeBase(ctx, cfg, embedder)
				Expect(err).ToNot(HaveOccurred())
				DeferCleanup(kb.Close)
				return kb
			}

			Expect(reopen().Exists()).To(BeTrue())

			change(cfg)
			Expect(reopen().Exists()).To(BeFalse())
		},
		Entry("chunk size", func(c *config.Config) { c.ChunkSize = 400 }),
		Entry("chunk overlap", func(c *config.Config) { c.ChunkOverlap = 0 }),
		Entry("embedding model", func(c *config.Config) { c.AzureDeploymentEmbedding = "text-embedding-3-large" }),
		Entry("retrieval mode", func(c *config.Config) { c.RetrievalMode = config.RetrievalHybrid }),
	)

	It("should fail when embeddings fail", func() {
		writeDoc(cfg.DocsDir, "a.txt", "alpha")
		server.FailEmbeddings(true)

		_, err := kb.Ingest(ctx, cfg.DocsDir)
		Expect(err).To(MatchError(ContainSubstring("failed to store chunks")))
		Expect(cfg.ManifestPath()).ToNot(BeAnExistingFile())
	})
})

var _ = Describe("Manifest", func() {
	It("should report a missing manifest", func() {
		_, err := LoadManifest(filepath.Join(GinkgoT().TempDir(), "manifest.json"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should reject a corrupt manifest", func() {
		path := writeDoc(GinkgoT().TempDir(), "manifest.json", "{")
		_, err := LoadManifest(path)
		Expect(err).To(HaveOccurred())
	})
})
