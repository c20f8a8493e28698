package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mudler/ragscope/pkg/client"
	"github.com/mudler/ragscope/pkg/config"
	"github.com/mudler/ragscope/pkg/openaitest"
	"github.com/mudler/ragscope/pkg/runlog"
	"github.com/mudler/ragscope/rag"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Server", func() {
	var (
		server    *openaitest.Server
		cfg       *config.Config
		pipelines *lazyPipeline
		e         *echo.Echo
	)

	do := func(method, target, contentType, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		if contentType != "" {
			req.Header.Set(echo.HeaderContentType, contentType)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	postForm := func(question string) *httptest.ResponseRecorder {
		form := url.Values{"question": {question}}
		return do(http.MethodPost, "/query", echo.MIMEApplicationForm, form.Encode())
	}

	postJSON := func(question string) *httptest.ResponseRecorder {
		payload, err := json.Marshal(map[string]string{"question": question})
		Expect(err).ToNot(HaveOccurred())
		return do(http.MethodPost, "/api/query", echo.MIMEApplicationJSON, string(payload))
	}

	BeforeEach(func() {
		server = openaitest.NewServer()
		DeferCleanup(server.Close)
		server.SetAnswer(answerFromContext)

		cfg = testConfig(server)
		writeDoc(cfg.DocsDir, "france.txt", "The capital of France is Paris.")
		writeDoc(cfg.DocsDir, "go.txt", "Go was designed at Google.")

		pipelines = newLazyPipeline(cfg, rag.NewWithRunLog)
		DeferCleanup(pipelines.Close)

		var err error
		e, err = newServer(pipelines)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should serve the question form", func() {
		rec := do(http.MethodGet, "/", "", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`name="question"`))
		Expect(rec.Body.String()).To(ContainSubstring(`action="/query"`))
	})

	It("should serve static assets", func() {
		rec := do(http.MethodGet, "/static/style.css", "", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("--accent"))
	})

	It("should report health", func() {
		rec := do(http.MethodGet, "/health", "", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"status":"ok"}`))
	})

	It("should not build the pipeline until a question is asked", func() {
		do(http.MethodGet, "/", "", "")
		do(http.MethodGet, "/health", "", "")
		Expect(server.EmbeddingInputs()).To(BeEmpty())
		Expect(cfg.ManifestPath()).ToNot(BeAnExistingFile())
	})

	Describe("the form", func() {
		It("should ask for a question when none is given", func() {
			rec := postForm("   ")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("Please enter a question."))
			Expect(server.ChatRequests()).To(BeEmpty())
		})

		It("should render the answer, the run metadata and the chunks", func() {
			rec := postForm("What is the capital of France?")
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := rec.Body.String()
			Expect(body).To(ContainSubstring(`<div class="answer">Paris.</div>`))
			Expect(body).To(MatchRegexp(`Latency: \d+\.\d{2}s \| Tokens \(est\): in \d+ / out \d+ \| Prompt: v1`))
			Expect(body).To(ContainSubstring("[1] The capital of France is Paris...."))
			Expect(body).To(ContainSubstring("[2] Go was designed at Google...."))
		})

		It("should escape the answer", func() {
			server.SetAnswer(func(string, string) string { return "<script>alert(1)</script>" })

			rec := postForm("What is the capital of France?")
			Expect(rec.Body.String()).ToNot(ContainSubstring("<script>alert(1)</script>"))
			Expect(rec.Body.String()).To(ContainSubstring("&lt;script&gt;"))
		})

		It("should show pipeline errors", func() {
			server.FailChat(true)

			rec := postForm("What is the capital of France?")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`<div class="result error">Error: chat completion failed`))
		})

		It("should retry building the pipeline after a failure", func() {
			empty := testConfig(server)
			pipelines = newLazyPipeline(empty, rag.NewWithRunLog)
			DeferCleanup(pipelines.Close)
			var err error
			e, err = newServer(pipelines)
			Expect(err).ToNot(HaveOccurred())

			rec := postForm("What is the capital of France?")
			Expect(rec.Body.String()).To(ContainSubstring("Error: no .txt or .pdf files found under"))

			writeDoc(empty.DocsDir, "france.txt", "The capital of France is Paris.")
			rec = postForm("What is the capital of France?")
			Expect(rec.Body.String()).To(ContainSubstring(`<div class="answer">Paris.</div>`))
		})
	})

	Describe("the JSON API", func() {
		It("should answer questions", func() {
			rec := postJSON("What is the capital of France?")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var out rag.RunOutput
			Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
			Expect(out.Answer).To(Equal("Paris."))
			Expect(out.ChunkIDs).To(HaveLen(2))
			Expect(out.ChunkIDs[0]).To(HaveSuffix("france.txt#0"))
			Expect(out.PromptVersion).To(Equal(rag.PromptVersion))
			Expect(out.RunID).ToNot(BeEmpty())
		})

		It("should reject empty questions", func() {
			rec := postJSON("")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"question is empty"}`))
		})

		It("should reject malformed requests", func() {
			rec := do(http.MethodPost, "/api/query", echo.MIMEApplicationJSON, "{")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should report pipeline failures", func() {
			server.FailEmbeddings(true)

			rec := postJSON("What is the capital of France?")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(ContainSubstring("error"))
		})

		It("should list recent runs, newest first", func() {
			Expect(postJSON("What is the capital of France?").Code).To(Equal(http.StatusOK))
			Expect(postJSON("Who designed Go?").Code).To(Equal(http.StatusOK))

			rec := do(http.MethodGet, "/api/runs?limit=1", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var records []runlog.Record
			Expect(json.Unmarshal(rec.Body.Bytes(), &records)).To(Succeed())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Question).To(Equal("Who designed Go?"))
		})

		It("should list runs through the run log the pipeline appends to", func() {
			Expect(postJSON("What is the capital of France?").Code).To(Equal(http.StatusOK))

			p, err := pipelines.get(context.Background())
			Expect(err).ToNot(HaveOccurred())
			Expect(p.RunLog()).To(BeIdenticalTo(pipelines.runLog))

			records, err := pipelines.runLog.Recent(1)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Question).To(Equal("What is the capital of France?"))
		})

		It("should return an empty list before any run", func() {
			rec := do(http.MethodGet, "/api/runs", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`[]`))
		})

		It("should reject invalid limits", func() {
			Expect(do(http.MethodGet, "/api/runs?limit=abc", "", "").Code).To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodGet, "/api/runs?limit=0", "", "").Code).To(Equal(http.StatusBadRequest))
		})

		It("should expose metrics", func() {
			Expect(postJSON("What is the capital of France?").Code).To(Equal(http.StatusOK))

			rec := do(http.MethodGet, "/metrics", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("ragscope_runs_total"))
			Expect(rec.Body.String()).To(ContainSubstring("ragscope_estimated_tokens_total"))
		})
	})

	It("should be usable through the client", func() {
		ts := httptest.NewServer(e)
		DeferCleanup(ts.Close)
		ctx := context.Background()

		c := client.NewClient(ts.URL)
		Expect(c.Health(ctx)).To(Succeed())

		out, err := c.Query(ctx, "What is the capital of France?")
		Expect(err).ToNot(HaveOccurred())
		Expect(out.Answer).To(Equal("Paris."))

		_, err = c.Query(ctx, " ")
		Expect(err).To(MatchError(ContainSubstring("question is empty")))

		records, err := c.Runs(ctx, 5)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].RunID).To(Equal(out.RunID))
	})
})
