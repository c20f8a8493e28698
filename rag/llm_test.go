package rag_test

import (
	"context"
	"strings"

	"github.com/mudler/ragscope/pkg/config"
	"github.com/mudler/ragscope/pkg/openaitest"
	. "github.com/mudler/ragscope/rag"
	"github.com/mudler/ragscope/rag/engine"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Azure OpenAI", func() {
	const apiVersion = "2024-08-01-preview"

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
		cfg.OpenAIAPIKey = ""
		cfg.OpenAIBaseURL = ""
		cfg.AzureEndpoint = server.URL + "/"
		cfg.AzureAPIKey = "az"
		cfg.AzureAPIVersion = apiVersion
		cfg.AzureDeploymentChat = "my-chat-deploy"
		cfg.AzureDeploymentEmbedding = "my-embed-deploy"
		Expect(cfg.Validate()).To(Succeed())
	})

	It("should send chat completions to the chat deployment", func() {
		g := NewGenerator(NewOpenAIClient(cfg), cfg.AzureDeploymentChat)

		_, err := g.Generate(ctx, "What is the capital of France?", "The capital of France is Paris.")
		Expect(err).ToNot(HaveOccurred())

		requests := server.Requests()
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].Path).To(Equal("/openai/deployments/my-chat-deploy/chat/completions"))
		Expect(requests[0].Query.Get("api-version")).To(Equal(apiVersion))
		Expect(requests[0].Header.Get("api-key")).To(Equal("az"))
		Expect(requests[0].Header.Get("Authorization")).To(BeEmpty())
	})

	It("should send embeddings to the embedding deployment", func() {
		e := engine.NewEmbedder(NewOpenAIClient(cfg), cfg.AzureDeploymentEmbedding)

		_, err := e.EmbedQuery(ctx, "Paris")
		Expect(err).ToNot(HaveOccurred())

		requests := server.Requests()
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].Path).To(Equal("/openai/deployments/my-embed-deploy/embeddings"))
		Expect(requests[0].Query.Get("api-version")).To(Equal(apiVersion))
		Expect(requests[0].Header.Get("api-key")).To(Equal("az"))
	})

	It("should run the whole pipeline against the deployments", func() {
		writeDoc(cfg.DocsDir, "france.txt", "The capital of France is Paris.")

		p, err := New(ctx, cfg)
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(p.Close)

		out, err := p.Run(ctx, "What is the capital of France?")
		Expect(err).ToNot(HaveOccurred())
		Expect(out.Answer).To(Equal("Paris."))

		for _, r := range server.Requests() {
			Expect(r.Path).To(HavePrefix("/openai/deployments/my-"))
			Expect(r.Query.Get("api-version")).To(Equal(apiVersion))
		}
	})
})
