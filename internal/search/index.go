package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/xaenox/lab-agent/internal/llm"
	"go.uber.org/zap"
)

// Index is an in-process semantic-search backend. With an embedder it ranks
// by cosine similarity over embedding vectors; without one it degrades to
// keyword-overlap scoring so the pipeline stays usable offline.
type Index struct {
	mu       sync.RWMutex
	docs     []indexedDocument
	embedder llm.Embedder
	logger   *zap.Logger
}

type indexedDocument struct {
	doc    Document
	vector []float32
}

func NewIndex(embedder llm.Embedder, logger *zap.Logger) *Index {
	return &Index{
		embedder: embedder,
		logger:   logger,
	}
}

// Add indexes documents, embedding their text when an embedder is configured.
func (ix *Index) Add(ctx context.Context, docs ...Document) error {
	var vectors [][]float32
	if ix.embedder != nil && len(docs) > 0 {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Text
		}
		var err error
		vectors, err = ix.embedder.Embed(ctx, texts)
		if err != nil {
			// Keyword scoring still works without vectors.
			ix.logger.Warn("embedding documents failed, falling back to keyword scoring", zap.Error(err))
			vectors = nil
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, d := range docs {
		entry := indexedDocument{doc: d}
		if vectors != nil {
			entry.vector = vectors[i]
		}
		ix.docs = append(ix.docs, entry)
	}
	return nil
}

// Reset drops all indexed documents. Called before a full reindex.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = nil
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Search returns up to k documents ranked by similarity to the query.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		return nil, nil
	}

	var queryVec []float32
	if ix.embedder != nil {
		vecs, err := ix.embedder.Embed(ctx, []string{query})
		if err != nil {
			ix.logger.Warn("embedding query failed, falling back to keyword scoring", zap.Error(err))
		} else if len(vecs) == 1 {
			queryVec = vecs[0]
		}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		doc   Document
		score float64
	}
	results := make([]scored, 0, len(ix.docs))
	for _, entry := range ix.docs {
		var score float64
		if queryVec != nil && entry.vector != nil {
			score = cosineSimilarity(queryVec, entry.vector)
		} else {
			score = keywordScore(query, entry.doc)
		}
		if score > 0 {
			results = append(results, scored{doc: entry.doc, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > k {
		results = results[:k]
	}

	docs := make([]Document, len(results))
	for i, r := range results {
		docs[i] = r.doc
	}
	return docs, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func keywordScore(query string, doc Document) float64 {
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return 0
	}
	haystack := strings.ToLower(doc.Text + " " + doc.Metadata.FileName + " " + strings.Join(doc.Metadata.Columns, " "))
	matched := 0
	for _, w := range queryWords {
		if len(w) < 3 {
			continue
		}
		if strings.Contains(haystack, w) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryWords))
}
