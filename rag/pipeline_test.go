package rag_test

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/mudler/ragscope/pkg/config"
	"github.com/mudler/ragscope/pkg/openaitest"
	. "github.com/mudler/ragscope/rag"
	"github.com/mudler/ragscope/rag/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"
)

var _ = Describe("Pipeline", func() {
	var (
		ctx    context.Context
		server *openaitest.Server
		cfg    *config.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = openaitest.NewServer()
		DeferCleanup(server.Close)
		server.SetAnswer(func(system, user string) string {
			if strings.Contains(openaitest.Context(user), "Paris") {
				return "Paris."
			}
			return "The context does not say."
		})

		cfg = testConfig(server)
		writeDoc(cfg.DocsDir, "france.txt", "The capital of France is Paris.")
		writeDoc(cfg.DocsDir, "go.txt", "Go was designed at Google.")
	})

	Describe("New", func() {
		It("should build the store from the documents directory", func() {
			p, err := New(ctx, cfg)
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(p.Close)

			Expect(p.KnowledgeBase().Count()).To(Equal(2))
			Expect(p.KnowledgeBase().Exists()).To(BeTrue())
			Expect(cfg.ManifestPath()).To(BeAnExistingFile())
			Expect(cfg.ChromaDir()).To(BeADirectory())
		})

		It("should reuse an existing store", func() {
			p, err := New(ctx, cfg)
			Expect(err).ToNot(HaveOccurred())
			Expect(p.Close()).To(Succeed())
			embedded := len(server.EmbeddingInputs())

			p, err = New(ctx, cfg)
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(p.Close)

			Expect(server.EmbeddingInputs()).To(HaveLen(embedded))
			Expect(p.KnowledgeBase().Count()).To(Equal(2))
		})

		It("should fail when there is nothing to ingest", func() {
			cfg.DocsDir = GinkgoT().TempDir()

			_, err := New(ctx, cfg)
			Expect(err).To(MatchError(ContainSubstring("no .txt or .pdf files found under " + cfg.DocsDir)))
		})

		It("should re-ingest when the retrieval mode changes", func() {
			p, err := New(ctx, cfg)
			Expect(err).ToNot(HaveOccurred())
			Expect(p.Close()).To(Succeed())
			embedded := len(server.EmbeddingInputs())

			cfg.RetrievalMode = config.RetrievalHybrid
			p, err = New(ctx, cfg)
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(p.Close)

			Expect(len(server.EmbeddingInputs())).To(BeNumerically(">", embedded))
			Expect(p.KnowledgeBase().Manifest().RetrievalMode).To(Equal(config.RetrievalHybrid))
			Expect(filepath.Join(cfg.DataDir, "fulltext.json")).To(BeAnExistingFile())

			out, err := p.Run(ctx, "What is the capital of France?")
			Expect(err).ToNot(HaveOccurred())
			Expect(out.ChunkIDs[0]).To(HaveSuffix("france.txt#0"))
		})

		It("should support hybrid retrieval", func() {
			cfg.RetrievalMode = config.RetrievalHybrid

			p, err := New(ctx, cfg)
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(p.Close)

			out, err := p.Run(ctx, "What is the capital of France?")
			Expect(err).ToNot(HaveOccurred())
			Expect(out.ChunkIDs[0]).To(HaveSuffix("france.txt#0"))
		})
	})

	Describe("Run", func() {
		var p *Pipeline

		BeforeEach(func() {
			var err error
			p, err = New(ctx, cfg)
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(p.Close)
		})

		It("should answer from the retrieved chunks", func() {
			out, err := p.Run(ctx, "What is the capital of France?")
			Expect(err).ToNot(HaveOccurred())

			Expect(out.Answer).To(Equal("Paris."))
			Expect(out.PromptVersion).To(Equal("v1"))
			Expect(out.RunID).ToNot(BeEmpty())
			Expect(out.Chunks).To(HaveLen(2))
			Expect(out.ChunkIDs).To(HaveLen(2))
			Expect(out.ChunkIDs[0]).To(HaveSuffix("france.txt#0"))
			Expect(out.LatencySeconds).To(BeNumerically(">", 0))
			Expect(out.OutputTokens).To(Equal(1))
			Expect(out.Usage).ToNot(BeNil())
			Expect(out.TraceID).To(BeEmpty())
		})

		It("should estimate input tokens from the question and the context", func() {
			question := "What is the capital of France?"
			out, err := p.Run(ctx, question)
			Expect(err).ToNot(HaveOccurred())

			raw := []string{}
			for _, c := range out.Chunks {
				raw = append(raw, c.Content)
			}
			Expect(out.InputTokens).To(Equal(EstimateTokens(question + strings.Join(raw, "\n\n"))))
		})

		It("should send the versioned prompts to the chat model", func() {
			_, err := p.Run(ctx, "What is the capital of France?")
			Expect(err).ToNot(HaveOccurred())

			requests := server.ChatRequests()
			Expect(requests).To(HaveLen(1))
			Expect(requests[0].Model).To(Equal("gpt-4o"))
			Expect(requests[0].Messages).To(HaveLen(2))
			Expect(requests[0].Messages[0].Role).To(Equal(openai.ChatMessageRoleSystem))
			Expect(requests[0].Messages[0].Content).To(Equal(SystemPrompt))

			user := requests[0].Messages[1].Content
			Expect(openaitest.Question(user)).To(Equal("What is the capital of France?"))
			Expect(openaitest.Context(user)).To(ContainSubstring("The capital of France is Paris."))
			Expect(requests[0].Temperature).To(BeNumerically("<", 0.001))
		})

		It("should append one run log row per run", func() {
			first, err := p.Run(ctx, "What is the capital of France?")
			Expect(err).ToNot(HaveOccurred())
			_, err = p.Run(ctx, "Who designed Go?")
			Expect(err).ToNot(HaveOccurred())

			records, err := p.RunLog().Recent(10)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[1].RunID).To(Equal(first.RunID))
			Expect(records[1].Question).To(Equal("What is the capital of France?"))
			Expect(records[1].AnswerPreview).To(Equal("Paris."))
			Expect(records[1].ChunkIDs).To(Equal(first.ChunkIDs))
			Expect(records[1].PromptVersion).To(Equal("v1"))
			Expect(records[1].InputTokens).To(Equal(first.InputTokens))
		})

		It("should reject empty questions", func() {
			_, err := p.Run(ctx, "   ")
			Expect(err).To(MatchError(ErrEmptyQuestion))
		})

		It("should fail without logging when the chat model fails", func() {
			server.FailChat(true)

			_, err := p.Run(ctx, "What is the capital of France?")
			Expect(err).To(HaveOccurred())

			records, err := p.RunLog().Recent(10)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(BeEmpty())
		})

		It("should fail when the question cannot be embedded", func() {
			server.FailEmbeddings(true)

			_, err := p.Run(ctx, "What is the capital of France?")
			Expect(err).To(MatchError(ContainSubstring("retrieval failed")))
		})
	})
})

var _ = Describe("Helpers", func() {
	It("should estimate at least one token", func() {
		Expect(EstimateTokens("")).To(Equal(1))
		Expect(EstimateTokens("abc")).To(Equal(1))
		Expect(EstimateTokens("abcdefgh")).To(Equal(2))
		Expect(EstimateTokens("ééééééééé")).To(Equal(2))
	})

	It("should name chunks by doc_id, ID or position", func() {
		ids := ChunkIDs([]types.Result{
			{ID: "a#0", Metadata: map[string]string{"doc_id": "doc-7"}},
			{ID: "b#1"},
			{},
		})
		Expect(ids).To(Equal([]string{"doc-7", "b#1", "chunk_2"}))
	})

	It("should join trimmed chunk contents with blank lines", func() {
		Expect(BuildContext([]types.Result{
			{Content: "  first \n"},
			{Content: "second"},
		})).To(Equal("first\n\nsecond"))
		Expect(BuildContext(nil)).To(Equal(""))
	})

	It("should fill the user prompt template", func() {
		Expect(UserPrompt("ctx {question}", "why?")).To(Equal("Context:\nctx {question}\n\nQuestion: why?\n\nAnswer:"))
		Expect(PromptVersion).To(Equal("v1"))
	})
})
