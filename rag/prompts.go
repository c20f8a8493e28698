package rag

import "strings"

// PromptVersion identifies the prompts below in run logs. Bump it whenever
// either prompt changes.
const PromptVersion = "v1"

const SystemPrompt = "You answer questions using only the provided context. " +
	"If the context does not contain enough information, say so. " +
	"Do not invent facts. Keep answers concise."

const userPromptTemplate = "Context:\n{context}\n\nQuestion: {question}\n\nAnswer:"

// UserPrompt fills the user template.
func UserPrompt(contextText, question string) string {
	return strings.NewReplacer("{context}", contextText, "{question}", question).Replace(userPromptTemplate)
}
