package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Success labels for metrics
const (
	SuccessTrue  = "true"
	SuccessFalse = "false"
)

var (
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ragscope_run_duration_seconds",
		Help:    "Duration of question answering runs (retrieve and generate) in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"success"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragscope_runs_total",
		Help: "Total number of question answering runs",
	}, []string{"success"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ragscope_stage_duration_seconds",
		Help:    "Duration of a single pipeline stage in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})

	ChunksRetrieved = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ragscope_chunks_retrieved",
		Help:    "Number of chunks retrieved as context",
		Buckets: []float64{0, 1, 2, 4, 8, 16},
	}, []string{})

	// direction: input/output
	EstimatedTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragscope_estimated_tokens_total",
		Help: "Estimated tokens (characters / 4) sent to and received from the chat model",
	}, []string{"direction"})

	ReportedTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragscope_reported_tokens_total",
		Help: "Tokens reported by the chat API",
	}, []string{"model", "direction"})

	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ragscope_ingest_duration_seconds",
		Help:    "Duration of ingestion in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"success"})

	ChunksStored = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ragscope_chunks_stored",
		Help: "Number of chunks in the vector store after the last ingestion",
	}, []string{})

	EvalScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ragscope_eval_score",
		Help:    "Scores of evaluated answers",
		Buckets: []float64{0, 0.25, 0.5, 0.75, 1},
	}, []string{"scorer"})
)

func successLabel(success bool) string {
	if success {
		return SuccessTrue
	}
	return SuccessFalse
}

func RecordRun(duration time.Duration, success bool, chunks int) {
	label := successLabel(success)
	RunDuration.WithLabelValues(label).Observe(duration.Seconds())
	RunsTotal.WithLabelValues(label).Inc()

	if success {
		ChunksRetrieved.WithLabelValues().Observe(float64(chunks))
	}
}

func RecordStage(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordEstimatedTokens(input, output int) {
	EstimatedTokens.WithLabelValues("input").Add(float64(input))
	EstimatedTokens.WithLabelValues("output").Add(float64(output))
}

func RecordReportedTokens(model string, prompt, completion int) {
	ReportedTokens.WithLabelValues(model, "input").Add(float64(prompt))
	ReportedTokens.WithLabelValues(model, "output").Add(float64(completion))
}

func RecordIngest(duration time.Duration, success bool, chunks int) {
	IngestDuration.WithLabelValues(successLabel(success)).Observe(duration.Seconds())
	if success {
		ChunksStored.WithLabelValues().Set(float64(chunks))
	}
}

func RecordEvalScore(scorer string, score float64) {
	EvalScore.WithLabelValues(scorer).Observe(score)
}
