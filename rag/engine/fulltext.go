package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mudler/ragscope/rag/types"
)

// FullTextIndex is a keyword index over chunk contents, persisted as JSON.
type FullTextIndex struct {
	path      string
	documents map[string]types.Document
	mu        sync.RWMutex
}

// NewFullTextIndex creates a new full-text index
func NewFullTextIndex(path string) (*FullTextIndex, error) {
	index := &FullTextIndex{
		path:      path,
		documents: make(map[string]types.Document),
	}

	if err := index.load(); err != nil {
		return nil, fmt.Errorf("failed to load full-text index: %w", err)
	}

	return index, nil
}

// Store adds documents to the index
func (i *FullTextIndex) Store(docs ...types.Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, d := range docs {
		i.documents[d.ID] = d
	}
	return i.save()
}

// Reset clears the index
func (i *FullTextIndex) Reset() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.documents = make(map[string]types.Document)
	return i.save()
}

func (i *FullTextIndex) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.documents)
}

// Search scores documents by the fraction of query terms they contain.
func (i *FullTextIndex) Search(query string, maxResults int) []types.Result {
	i.mu.RLock()
	defer i.mu.RUnlock()

	queryTerms := strings.Fields(strings.ToLower(query))
	if len(queryTerms) == 0 {
		return nil
	}

	scoredResults := make([]types.Result, 0)
	for id, doc := range i.documents {
		contentLower := strings.ToLower(doc.Content)
		score := float32(0)

		for _, term := range queryTerms {
			if strings.Contains(contentLower, term) {
				score += 1.0
			}
		}
		score = score / float32(len(queryTerms))

		if score > 0 {
			scoredResults = append(scoredResults, types.Result{
				ID:            id,
				Content:       doc.Content,
				Metadata:      doc.Metadata,
				FullTextScore: score,
			})
		}
	}

	sort.Slice(scoredResults, func(a, b int) bool {
		if scoredResults[a].FullTextScore == scoredResults[b].FullTextScore {
			return scoredResults[a].ID < scoredResults[b].ID
		}
		return scoredResults[a].FullTextScore > scoredResults[b].FullTextScore
	})

	if len(scoredResults) > maxResults {
		scoredResults = scoredResults[:maxResults]
	}

	return scoredResults
}

// load reads the index from disk
func (i *FullTextIndex) load() error {
	data, err := os.ReadFile(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return json.Unmarshal(data, &i.documents)
}

// save writes the index to disk
func (i *FullTextIndex) save() error {
	data, err := json.Marshal(i.documents)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(i.path), 0755); err != nil {
		return err
	}

	return os.WriteFile(i.path, data, 0644)
}
