package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mudler/ragscope/pkg/config"
	"github.com/mudler/ragscope/pkg/runlog"
	"github.com/mudler/ragscope/rag"
	"github.com/mudler/xlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxChunkPreviews   = 5
	chunkPreviewLength = 200
	defaultRunsLimit   = 20
)

type pipelineBuilder func(ctx context.Context, cfg *config.Config, runLog *runlog.Log) (*rag.Pipeline, error)

// lazyPipeline builds the pipeline on first use so the server can start
// before anything has been ingested. A failed build is retried on the next
// request. The run log exists from the start and is handed to the pipeline
// once built.
type lazyPipeline struct {
	mu       sync.Mutex
	cfg      *config.Config
	build    pipelineBuilder
	runLog   *runlog.Log
	pipeline *rag.Pipeline
}

func newLazyPipeline(cfg *config.Config, build pipelineBuilder) *lazyPipeline {
	return &lazyPipeline{
		cfg:    cfg,
		build:  build,
		runLog: runlog.New(cfg.RunLogPath()),
	}
}

func (l *lazyPipeline) get(ctx context.Context) (*rag.Pipeline, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pipeline != nil {
		return l.pipeline, nil
	}

	p, err := l.build(ctx, l.cfg, l.runLog)
	if err != nil {
		return nil, err
	}
	l.pipeline = p
	return p, nil
}

func (l *lazyPipeline) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pipeline == nil {
		return nil
	}
	err := l.pipeline.Close()
	l.pipeline = nil
	return err
}

func newServer(pipelines *lazyPipeline) (*echo.Echo, error) {
	renderer, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Renderer = renderer
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	registerStaticHandler(e)
	e.GET("/", index)
	e.POST("/query", queryPage(pipelines))
	e.GET("/health", health)

	e.POST("/api/query", query(pipelines))
	e.GET("/api/runs", listRuns(pipelines.runLog))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e, nil
}

// startAPI serves until ctx is cancelled, then shuts the server down.
func startAPI(ctx context.Context, cfg *config.Config, listenAddress string) error {
	pipelines := newLazyPipeline(cfg, rag.NewWithRunLog)
	defer pipelines.Close()

	e, err := newServer(pipelines)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		xlog.Info("Starting server", "address", listenAddress)
		errCh <- e.Start(listenAddress)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	xlog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

type chunkView struct {
	Position int
	Preview  string
}

type resultView struct {
	Answer string
	Meta   string
	Chunks []chunkView
}

type pageData struct {
	Question string
	Error    string
	Result   *resultView
}

func index(c echo.Context) error {
	return c.Render(http.StatusOK, "index.html", pageData{})
}

func queryPage(pipelines *lazyPipeline) func(c echo.Context) error {
	return func(c echo.Context) error {
		question := strings.TrimSpace(c.FormValue("question"))
		if question == "" {
			return c.Render(http.StatusOK, "index.html", pageData{Error: "Please enter a question."})
		}

		data := pageData{Question: question}

		out, err := runQuery(c.Request().Context(), pipelines, question)
		if err != nil {
			data.Error = "Error: " + err.Error()
			return c.Render(http.StatusOK, "index.html", data)
		}

		data.Result = newResultView(out)
		return c.Render(http.StatusOK, "index.html", data)
	}
}

func newResultView(out *rag.RunOutput) *resultView {
	view := &resultView{
		Answer: out.Answer,
		Meta: fmt.Sprintf("Latency: %.2fs | Tokens (est): in %d / out %d | Prompt: %s",
			out.LatencySeconds, out.InputTokens, out.OutputTokens, out.PromptVersion),
	}
	for i, chunk := range out.Chunks {
		if i == maxChunkPreviews {
			break
		}
		view.Chunks = append(view.Chunks, chunkView{
			Position: i + 1,
			Preview:  runlog.Truncate(chunk.Content, chunkPreviewLength),
		})
	}
	return view
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func query(pipelines *lazyPipeline) func(c echo.Context) error {
	return func(c echo.Context) error {
		type request struct {
			Question string `json:"question"`
		}

		r := new(request)
		if err := c.Bind(r); err != nil {
			return c.JSON(http.StatusBadRequest, errorMessage("Invalid request"))
		}

		out, err := runQuery(c.Request().Context(), pipelines, r.Question)
		switch {
		case errors.Is(err, rag.ErrEmptyQuestion):
			return c.JSON(http.StatusBadRequest, errorMessage(err.Error()))
		case err != nil:
			return c.JSON(http.StatusInternalServerError, errorMessage(err.Error()))
		}

		return c.JSON(http.StatusOK, out)
	}
}

func runQuery(ctx context.Context, pipelines *lazyPipeline, question string) (*rag.RunOutput, error) {
	if strings.TrimSpace(question) == "" {
		return nil, rag.ErrEmptyQuestion
	}

	p, err := pipelines.get(ctx)
	if err != nil {
		xlog.Error("Failed to build pipeline", "error", err)
		return nil, err
	}

	out, err := p.Run(ctx, question)
	if err != nil {
		xlog.Error("Query failed", "error", err)
		return nil, err
	}
	return out, nil
}

func listRuns(runLog *runlog.Log) func(c echo.Context) error {
	return func(c echo.Context) error {
		limit := defaultRunsLimit
		if v := c.QueryParam("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, errorMessage("limit must be a positive integer"))
			}
			limit = n
		}

		records, err := runLog.Recent(limit)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to read run log"))
		}

		return c.JSON(http.StatusOK, records)
	}
}

func errorMessage(message string) map[string]string {
	return map[string]string{"error": message}
}
