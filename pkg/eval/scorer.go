package eval

import (
	"context"
	"fmt"
	"math"
	"strings"
)

const (
	ScorerExact    = "exact"
	ScorerSemantic = "semantic"
)

// Scorer rates an answer against the expected one, from 0 to 1.
type Scorer interface {
	Name() string
	Score(ctx context.Context, got, expected string) (float64, error)
}

// ExactMatch scores 1 when, after trimming and lower-casing, either string
// contains the other. An empty answer is contained in any expectation.
type ExactMatch struct{}

func (ExactMatch) Name() string {
	return ScorerExact
}

func (ExactMatch) Score(_ context.Context, got, expected string) (float64, error) {
	got = strings.ToLower(strings.TrimSpace(got))
	expected = strings.ToLower(strings.TrimSpace(expected))

	if strings.Contains(got, expected) || strings.Contains(expected, got) {
		return 1, nil
	}
	return 0, nil
}

// Embedder computes embeddings for a batch of texts.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Semantic scores the cosine similarity of the answer and expected
// embeddings, clipped to [0, 1].
type Semantic struct {
	Embedder Embedder
}

func (Semantic) Name() string {
	return ScorerSemantic
}

func (s Semantic) Score(ctx context.Context, got, expected string) (float64, error) {
	if strings.TrimSpace(got) == "" {
		return 0, nil
	}

	embeddings, err := s.Embedder.EmbedDocuments(ctx, []string{got, expected})
	if err != nil {
		return 0, err
	}
	if len(embeddings) != 2 {
		return 0, fmt.Errorf("expected 2 embeddings, got %d", len(embeddings))
	}

	return math.Max(0, math.Min(1, cosine(embeddings[0], embeddings[1]))), nil
}

// NewScorer returns the scorer registered under name.
func NewScorer(name string, embedder Embedder) (Scorer, error) {
	switch name {
	case ScorerExact, "":
		return ExactMatch{}, nil
	case ScorerSemantic:
		if embedder == nil {
			return nil, fmt.Errorf("the semantic scorer needs an embedder")
		}
		return Semantic{Embedder: embedder}, nil
	}
	return nil, fmt.Errorf("unknown scorer %q, expected %s or %s", name, ScorerExact, ScorerSemantic)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
