package engine

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
	"github.com/sashabaranov/go-openai"
)

// embeddingBatchSize bounds the number of inputs sent in one embeddings call.
const embeddingBatchSize = 64

// Embedder computes embeddings through an OpenAI-compatible API. With Azure
// the model is the embedding deployment name.
type Embedder struct {
	client *openai.Client
	model  string
}

func NewEmbedder(client *openai.Client, model string) *Embedder {
	return &Embedder{
		client: client,
		model:  model,
	}
}

func (e *Embedder) Model() string {
	return e.model
}

// EmbedQuery returns the embedding of a single text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedDocuments returns one embedding per text, in order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := min(start+embeddingBatchSize, len(texts))

		resp, err := e.client.CreateEmbeddings(ctx,
			openai.EmbeddingRequestStrings{
				Input: texts[start:end],
				Model: openai.EmbeddingModel(e.model),
			},
		)
		if err != nil {
			return nil, fmt.Errorf("error getting embeddings: %w", err)
		}

		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("expected %d embeddings from the API, got %d", end-start, len(resp.Data))
		}

		batch := make([][]float32, end-start)
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, fmt.Errorf("embedding index %d out of range", d.Index)
			}
			batch[d.Index] = d.Embedding
		}
		embeddings = append(embeddings, batch...)
	}

	return embeddings, nil
}

// EmbeddingFunc adapts the embedder to chromem.
func (e *Embedder) EmbeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.EmbedQuery(ctx, text)
	}
}
