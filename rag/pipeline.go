package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mudler/ragscope/pkg/chunk"
	"github.com/mudler/ragscope/pkg/config"
	"github.com/mudler/ragscope/pkg/metrics"
	"github.com/mudler/ragscope/pkg/runlog"
	"github.com/mudler/ragscope/rag/engine"
	"github.com/mudler/ragscope/rag/sources"
	"github.com/mudler/ragscope/rag/types"
	"github.com/mudler/xlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mudler/ragscope/rag"

// tracer returns a tracer from the current global provider.
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

var ErrEmptyQuestion = errors.New("question is empty")

// RunOutput is the result of one question answering run.
type RunOutput struct {
	RunID          string         `json:"run_id"`
	Answer         string         `json:"answer"`
	Chunks         []types.Result `json:"chunks"`
	ChunkIDs       []string       `json:"chunk_ids"`
	LatencySeconds float64        `json:"latency_seconds"`
	InputTokens    int            `json:"input_tokens"`
	OutputTokens   int            `json:"output_tokens"`
	PromptVersion  string         `json:"prompt_version"`
	TraceID        string         `json:"trace_id,omitempty"`
	Usage          *runlog.Usage  `json:"usage,omitempty"`
}

// Pipeline retrieves the chunks closest to a question, asks the chat model
// to answer from them and logs the run.
type Pipeline struct {
	kb        *KnowledgeBase
	retriever *Retriever
	generator *Generator
	embedder  *engine.Embedder
	runLog    *runlog.Log
}

func NewPipeline(kb *KnowledgeBase, retriever *Retriever, generator *Generator, embedder *engine.Embedder, runLog *runlog.Log) *Pipeline {
	return &Pipeline{
		kb:        kb,
		retriever: retriever,
		generator: generator,
		embedder:  embedder,
		runLog:    runLog,
	}
}

// OpenKnowledgeBase opens the configured store and its manifest without
// ingesting anything.
func OpenKnowledgeBase(ctx context.Context, cfg *config.Config, embedder *engine.Embedder) (*KnowledgeBase, error) {
	store, err := NewStore(ctx, cfg, embedder)
	if err != nil {
		return nil, err
	}

	return NewKnowledgeBase(store, KnowledgeBaseOptions{
		ManifestPath:   cfg.ManifestPath(),
		Splitter:       chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Loader:         &sources.Loader{GitPrivateKey: cfg.GitPrivateKey},
		EmbeddingModel: embedder.Model(),
		VectorEngine:   cfg.VectorEngine,
		RetrievalMode:  cfg.RetrievalMode,
	})
}

// New builds a pipeline from the configuration. An existing store is
// reused; otherwise the documents directory is ingested first.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	return NewWithRunLog(ctx, cfg, runlog.New(cfg.RunLogPath()))
}

// NewWithRunLog is New with a run log owned by the caller, so that readers
// of the log share its lock with the pipeline appending to it.
func NewWithRunLog(ctx context.Context, cfg *config.Config, runLog *runlog.Log) (*Pipeline, error) {
	client := NewOpenAIClient(cfg)
	embedder := engine.NewEmbedder(client, cfg.AzureDeploymentEmbedding)

	kb, err := OpenKnowledgeBase(ctx, cfg, embedder)
	if err != nil {
		return nil, err
	}

	if kb.Exists() {
		xlog.Info("Using existing vector store", "chunks", kb.Count(), "ingested_at", kb.Manifest().IngestedAt)
	} else {
		xlog.Info("No vector store found, ingesting documents", "dir", cfg.DocsDir)
		if _, err := kb.Ingest(ctx, cfg.DocsDir); err != nil {
			kb.Close()
			return nil, err
		}
	}

	return NewPipeline(
		kb,
		NewRetriever(kb, cfg.TopK),
		NewGenerator(client, cfg.AzureDeploymentChat),
		embedder,
		runLog,
	), nil
}

func (p *Pipeline) KnowledgeBase() *KnowledgeBase {
	return p.kb
}

func (p *Pipeline) Embedder() *engine.Embedder {
	return p.embedder
}

func (p *Pipeline) RunLog() *runlog.Log {
	return p.runLog
}

// Close releases the store.
func (p *Pipeline) Close() error {
	return p.kb.Close()
}

func closeStore(store Engine) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Run answers a question. The returned latency covers retrieval and
// generation; token counts are estimates (characters / 4).
func (p *Pipeline) Run(ctx context.Context, question string) (*RunOutput, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	ctx, span := tracer().Start(ctx, "rag.run", trace.WithAttributes(
		attribute.String("rag.prompt_version", PromptVersion),
		attribute.String("rag.question", runlog.Truncate(question, runlog.MaxQuestionLength)),
	))
	defer span.End()

	start := time.Now()
	out, err := p.run(ctx, question, start)
	if err != nil {
		metrics.RecordRun(time.Since(start), false, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.RecordRun(time.Since(start), true, len(out.Chunks))

	if sc := span.SpanContext(); sc.HasTraceID() {
		out.TraceID = sc.TraceID().String()
	}
	span.SetAttributes(
		attribute.String("rag.run_id", out.RunID),
		attribute.StringSlice("rag.chunk_ids", out.ChunkIDs),
		attribute.Int("rag.input_tokens", out.InputTokens),
		attribute.Int("rag.output_tokens", out.OutputTokens),
	)

	record, err := p.runLog.Append(runlog.Record{
		RunID:          out.RunID,
		PromptVersion:  out.PromptVersion,
		Question:       question,
		ChunkIDs:       out.ChunkIDs,
		AnswerPreview:  out.Answer,
		LatencySeconds: out.LatencySeconds,
		InputTokens:    out.InputTokens,
		OutputTokens:   out.OutputTokens,
		TraceID:        out.TraceID,
		Usage:          out.Usage,
	})
	if err != nil {
		// the answer is still worth returning
		xlog.Error("Failed to append run log", "path", p.runLog.Path(), "error", err)
	} else {
		xlog.Debug("Run logged", "run_id", record.RunID, "latency", record.LatencySeconds)
	}

	return out, nil
}

func (p *Pipeline) run(ctx context.Context, question string, start time.Time) (*RunOutput, error) {
	chunks, err := p.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	generation, err := p.generate(ctx, question, BuildContext(chunks))
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	rawContext := make([]string, len(chunks))
	for i, c := range chunks {
		rawContext[i] = c.Content
	}
	inputTokens := EstimateTokens(question + strings.Join(rawContext, "\n\n"))
	outputTokens := EstimateTokens(generation.Answer)
	metrics.RecordEstimatedTokens(inputTokens, outputTokens)

	out := &RunOutput{
		RunID:          runlog.NewRunID(),
		Answer:         generation.Answer,
		Chunks:         chunks,
		ChunkIDs:       ChunkIDs(chunks),
		LatencySeconds: latency.Seconds(),
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		PromptVersion:  PromptVersion,
	}
	if u := generation.Usage; u.TotalTokens > 0 {
		out.Usage = &runlog.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
		metrics.RecordReportedTokens(p.generator.Model(), u.PromptTokens, u.CompletionTokens)
	}

	return out, nil
}

func (p *Pipeline) retrieve(ctx context.Context, question string) ([]types.Result, error) {
	ctx, span := tracer().Start(ctx, "rag.retrieve")
	defer span.End()

	start := time.Now()
	chunks, err := p.retriever.Retrieve(ctx, question)
	metrics.RecordStage("retrieve", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	span.SetAttributes(attribute.Int("rag.chunks", len(chunks)))
	return chunks, nil
}

func (p *Pipeline) generate(ctx context.Context, question, contextText string) (*Generation, error) {
	ctx, span := tracer().Start(ctx, "rag.generate", trace.WithAttributes(
		attribute.String("gen_ai.request.model", p.generator.Model()),
	))
	defer span.End()

	start := time.Now()
	generation, err := p.generator.Generate(ctx, question, contextText)
	metrics.RecordStage("generate", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", generation.Usage.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", generation.Usage.CompletionTokens),
	)
	return generation, nil
}

// EstimateTokens approximates a token count as one token per four
// characters, never less than one.
func EstimateTokens(text string) int {
	return max(1, utf8.RuneCountInString(text)/4)
}

// ChunkIDs names retrieved chunks by their doc_id metadata, their ID, or
// chunk_<position>.
func ChunkIDs(chunks []types.Result) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		switch {
		case c.Metadata["doc_id"] != "":
			ids[i] = c.Metadata["doc_id"]
		case c.ID != "":
			ids[i] = c.ID
		default:
			ids[i] = fmt.Sprintf("chunk_%d", i)
		}
	}
	return ids
}
