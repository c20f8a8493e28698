// Package openaitest provides an in-process OpenAI-compatible server for
// tests. It answers /embeddings with deterministic bag-of-words vectors and
// /chat/completions with a configurable answer function.
package openaitest

import (
	"encoding/json"
	"hash/fnv"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sashabaranov/go-openai"
)

// Dimensions is the size of the vectors returned by Embed.
const Dimensions = 64

// AnswerFunc produces the assistant reply for a chat request.
type AnswerFunc func(system, user string) string

// Server is a fake OpenAI API.
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	answer          AnswerFunc
	failChat        bool
	failEmbeddings  bool
	chatRequests    []openai.ChatCompletionRequest
	embeddingInputs []string
	requests        []Request
}

// Request is the HTTP envelope of a received API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		answer: func(string, string) string { return "I don't know." },
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL is the value to use as the client base URL.
func (s *Server) BaseURL() string {
	return s.URL + "/v1"
}

// Config returns a go-openai client configuration pointing at the server.
func (s *Server) Config() openai.ClientConfig {
	config := openai.DefaultConfig("sk-test")
	config.BaseURL = s.BaseURL()
	return config
}

// Client returns a go-openai client pointing at the server.
func (s *Server) Client() *openai.Client {
	return openai.NewClientWithConfig(s.Config())
}

// SetAnswer replaces the function producing chat replies.
func (s *Server) SetAnswer(f AnswerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = f
}

// FailChat makes chat completions return a server error.
func (s *Server) FailChat(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChat = fail
}

// FailEmbeddings makes embedding requests return a server error.
func (s *Server) FailEmbeddings(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failEmbeddings = fail
}

// ChatRequests returns the chat requests received so far.
func (s *Server) ChatRequests() []openai.ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]openai.ChatCompletionRequest{}, s.chatRequests...)
}

// EmbeddingInputs returns every text that was embedded so far.
func (s *Server) EmbeddingInputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.embeddingInputs...)
}

// Requests returns the method, path, query and headers of every call.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request{}, s.requests...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	})
	s.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		s.embeddings(w, r)
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		s.chat(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
	}
}

func (s *Server) embeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	fail := s.failEmbeddings
	s.embeddingInputs = append(s.embeddingInputs, req.Input...)
	s.mu.Unlock()

	if fail {
		writeError(w, http.StatusInternalServerError, "embeddings unavailable")
		return
	}

	resp := openai.EmbeddingResponse{
		Object: "list",
		Model:  openai.EmbeddingModel(req.Model),
	}
	tokens := 0
	for i, in := range req.Input {
		resp.Data = append(resp.Data, openai.Embedding{
			Object:    "embedding",
			Embedding: Embed(in),
			Index:     i,
		})
		tokens += len(strings.Fields(in))
	}
	resp.Usage = openai.Usage{PromptTokens: tokens, TotalTokens: tokens}

	writeJSON(w, resp)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.chatRequests = append(s.chatRequests, req)
	fail := s.failChat
	answer := s.answer
	s.mu.Unlock()

	if fail {
		writeError(w, http.StatusInternalServerError, "chat unavailable")
		return
	}

	var system, user string
	for _, m := range req.Messages {
		switch m.Role {
		case openai.ChatMessageRoleSystem:
			system = m.Content
		case openai.ChatMessageRoleUser:
			user = m.Content
		}
	}
	content := answer(system, user)

	promptTokens := len(strings.Fields(system)) + len(strings.Fields(user))
	completionTokens := len(strings.Fields(content))

	writeJSON(w, openai.ChatCompletionResponse{
		ID:      "chatcmpl-test",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: content,
				},
				FinishReason: openai.FinishReasonStop,
			},
		},
		Usage: openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

// Embed returns a deterministic, normalized bag-of-words vector: texts
// sharing words get a higher cosine similarity.
func Embed(text string) []float32 {
	v := make([]float32, Dimensions)
	// bias keeps the vector non-zero for texts without words
	v[0] = 0.1

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		h.Write([]byte(word))
		v[1+int(h.Sum32()%(Dimensions-1))]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Question extracts the question from a user prompt built with the
// "Question: ...\n\nAnswer:" template.
func Question(user string) string {
	_, after, ok := strings.Cut(user, "Question: ")
	if !ok {
		return user
	}
	q, _, _ := strings.Cut(after, "\n\nAnswer:")
	return q
}

// Context extracts the context block from a user prompt.
func Context(user string) string {
	_, after, ok := strings.Cut(user, "Context:\n")
	if !ok {
		return ""
	}
	c, _, _ := strings.Cut(after, "\n\nQuestion: ")
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "server_error",
		},
	})
}
