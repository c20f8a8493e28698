// Package eval runs a labeled question set through the pipeline and scores
// the answers.
package eval

import (
	"context"
	"fmt"
	"io"

	"github.com/mudler/ragscope/pkg/metrics"
	"github.com/mudler/ragscope/pkg/runlog"
	"github.com/mudler/ragscope/rag"
	"github.com/mudler/xlog"
)

// PassThreshold is the minimum score counted as a pass.
const PassThreshold = 0.5

// Pipeline answers questions.
type Pipeline interface {
	Run(ctx context.Context, question string) (*rag.RunOutput, error)
}

type Result struct {
	Question string  `json:"question"`
	Expected string  `json:"expected"`
	Answer   string  `json:"answer"`
	Score    float64 `json:"score"`
	RunID    string  `json:"run_id,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type Report struct {
	Scorer  string   `json:"scorer"`
	Results []Result `json:"results"`
	Average float64  `json:"average"`
	Passed  int      `json:"passed"`
	Total   int      `json:"total"`
}

// Summary renders the average score and the pass rate.
func (r *Report) Summary() string {
	return fmt.Sprintf("average score = %.3f | pass rate = %d / %d", r.Average, r.Passed, r.Total)
}

// Runner evaluates examples one at a time, printing a progress line per
// example to Out.
type Runner struct {
	Pipeline Pipeline
	Scorer   Scorer
	Out      io.Writer
}

// Run scores every example. A failed run scores 0 and is recorded with its
// error; only a cancelled context stops the evaluation.
func (r *Runner) Run(ctx context.Context, examples []Example) (*Report, error) {
	report := &Report{
		Scorer:  r.Scorer.Name(),
		Results: make([]Result, 0, len(examples)),
		Total:   len(examples),
	}

	var sum float64
	for i, ex := range examples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := r.evaluate(ctx, ex)
		report.Results = append(report.Results, result)
		sum += result.Score
		if result.Score >= PassThreshold {
			report.Passed++
		}
		metrics.RecordEvalScore(report.Scorer, result.Score)

		if r.Out != nil {
			fmt.Fprintf(r.Out, "[%d/%d] score=%.2f | %s...\n", i+1, len(examples), result.Score, runlog.Truncate(ex.Question, 50))
		}
	}

	if len(examples) > 0 {
		report.Average = sum / float64(len(examples))
	}

	return report, nil
}

func (r *Runner) evaluate(ctx context.Context, ex Example) Result {
	result := Result{
		Question: ex.Question,
		Expected: ex.Expected,
	}

	out, err := r.Pipeline.Run(ctx, ex.Question)
	if err != nil {
		xlog.Warn("Eval question failed", "question", ex.Question, "error", err)
		result.Error = err.Error()
		return result
	}
	result.Answer = out.Answer
	result.RunID = out.RunID

	score, err := r.Scorer.Score(ctx, out.Answer, ex.Expected)
	if err != nil {
		xlog.Warn("Scoring failed", "question", ex.Question, "error", err)
		result.Error = err.Error()
		return result
	}
	result.Score = score

	return result
}
