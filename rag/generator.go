package rag

import (
	"context"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"
)

// Generator answers a question from a context with a chat model.
type Generator struct {
	client *openai.Client
	model  string
}

type Generation struct {
	Answer string
	Usage  openai.Usage
}

// NewGenerator uses model as the chat model, or the deployment name with
// Azure.
func NewGenerator(client *openai.Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

func (g *Generator) Model() string {
	return g.model
}

func (g *Generator) Generate(ctx context.Context, question, contextText string) (*Generation, error) {
	resp, err := g.client.CreateChatCompletion(ctx,
		openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: SystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: UserPrompt(contextText, question),
				},
			},
			// a zero temperature is dropped from the request
			Temperature: math.SmallestNonzeroFloat32,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return &Generation{
		Answer: resp.Choices[0].Message.Content,
		Usage:  resp.Usage,
	}, nil
}
