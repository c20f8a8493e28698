// Package runlog appends one JSON line per question answering run and reads
// recent runs back.
package runlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mudler/xlog"
	"github.com/oklog/ulid/v2"
)

const (
	MaxQuestionLength      = 500
	MaxAnswerPreviewLength = 300
)

// Usage is the token usage reported by the chat API, when available.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Record struct {
	RunID          string    `json:"run_id"`
	Timestamp      time.Time `json:"timestamp"`
	PromptVersion  string    `json:"prompt_version"`
	Question       string    `json:"question"`
	ChunkIDs       []string  `json:"chunk_ids"`
	AnswerPreview  string    `json:"answer_preview"`
	LatencySeconds float64   `json:"latency_seconds"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	TraceID        string    `json:"trace_id,omitempty"`
	Usage          *Usage    `json:"usage,omitempty"`
}

// Log is an append-only JSONL file.
type Log struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Log {
	return &Log{path: path}
}

func (l *Log) Path() string {
	return l.path
}

// NewRunID returns a lexically sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// Append normalizes the record and writes it as one line. A missing run ID
// or timestamp is filled in; question and answer preview are truncated and
// latency is rounded to milliseconds.
func (l *Log) Append(r Record) (Record, error) {
	if r.RunID == "" {
		r.RunID = NewRunID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.ChunkIDs == nil {
		r.ChunkIDs = []string{}
	}
	r.Question = Truncate(r.Question, MaxQuestionLength)
	r.AnswerPreview = Truncate(r.AnswerPreview, MaxAnswerPreviewLength)
	r.LatencySeconds = math.Round(r.LatencySeconds*1000) / 1000

	line, err := json.Marshal(r)
	if err != nil {
		return r, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return r, fmt.Errorf("creating run log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return r, fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return r, fmt.Errorf("writing run log: %w", err)
	}

	return r, nil
}

// Recent returns up to n records, newest first. Lines that do not parse
// are skipped.
func (l *Log) Recent(n int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := []Record{}
	if n <= 0 {
		return records, nil
	}

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading run log: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			xlog.Warn("Skipping malformed run log line", "path", l.path, "error", err)
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading run log: %w", err)
	}

	if len(records) > n {
		records = records[len(records)-n:]
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	return records, nil
}

// Truncate keeps the first n characters of s.
func Truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
