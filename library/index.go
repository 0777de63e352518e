// Package library holds the reference-text corpus and its keyword search.
// Ranking is deliberately simple; the resolver only depends on the search
// contract (query + candidate filter in, top-K passages out), so a
// different ranking function can replace this one without touching the
// orchestration core.
package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultTopK is the number of passages returned when the caller does not
// ask for a specific K.
const DefaultTopK = 3

// snippetWords caps how much of a matching document is carried into the
// prompt.
const snippetWords = 500

// Document is one reference text in the corpus.
type Document struct {
	Filename string
	Content  string
}

// Passage is a retrieved excerpt: ephemeral, produced fresh per query,
// never mutated after creation.
type Passage struct {
	Source  string  `json:"source"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Index is the in-memory document index. Reads are concurrent; the corpus
// is replaced wholesale by LoadDir.
type Index struct {
	mu     sync.RWMutex
	docs   []Document
	logger *zap.Logger
}

// NewIndex creates an empty index.
func NewIndex(logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{logger: logger.With(zap.String("component", "library_index"))}
}

// LoadDir reads every .txt file in dir into the corpus, replacing the
// previous contents. Unreadable files are skipped with a warning.
func (ix *Index) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read library dir: %w", err)
	}

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			ix.logger.Warn("skipping unreadable document",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		docs = append(docs, Document{Filename: entry.Name(), Content: string(content)})
	}

	ix.mu.Lock()
	ix.docs = docs
	ix.mu.Unlock()

	ix.logger.Info("library loaded", zap.String("dir", dir), zap.Int("documents", len(docs)))
	return nil
}

// Add appends a document. Used by tests and embedded corpora.
func (ix *Index) Add(doc Document) {
	ix.mu.Lock()
	ix.docs = append(ix.docs, doc)
	ix.mu.Unlock()
}

// Len returns the corpus size.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Search returns the top-k passages for query, restricted to documents
// whose filename contains any of the filter terms (case-insensitive). An
// empty filter searches the whole corpus. k <= 0 uses DefaultTopK.
// Results are ordered by descending relevance with filename as a
// deterministic tie-break.
func (ix *Index) Search(ctx context.Context, filter []string, query string, k int) ([]Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}

	words := queryWords(query)
	if len(words) == 0 {
		return nil, nil
	}

	ix.mu.RLock()
	docs := ix.docs
	ix.mu.RUnlock()

	var scored []Passage
	for _, doc := range docs {
		if !matchesFilter(doc.Filename, filter) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content := strings.ToLower(doc.Content)
		score := 0.0
		for word := range words {
			if strings.Contains(content, word) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		scored = append(scored, Passage{
			Source:  doc.Filename,
			Snippet: snippet(doc.Content),
			Score:   score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Source < scored[j].Source
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// queryWords extracts the significant search terms: lowercased words
// longer than three characters.
func queryWords(query string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, word := range strings.Fields(query) {
		word = strings.ToLower(strings.Trim(word, ".,;:!?\"'"))
		if len(word) > 3 {
			words[word] = struct{}{}
		}
	}
	return words
}

// matchesFilter reports whether filename belongs to the candidate set.
func matchesFilter(filename string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	lower := strings.ToLower(filename)
	for _, f := range filter {
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// snippet returns the first snippetWords whitespace-delimited words.
func snippet(content string) string {
	fields := strings.Fields(content)
	if len(fields) > snippetWords {
		fields = fields[:snippetWords]
	}
	return strings.Join(fields, " ")
}
