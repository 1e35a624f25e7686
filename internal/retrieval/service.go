package retrieval

import (
	"context"
	"errors"
	"time"

	"civicdocs/backend/internal/middleware"
	"civicdocs/backend/internal/vector"
)

var ErrEmptyQuery = errors.New("query must not be empty")

type SearchResult struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	ChunkIndex   int     `json:"chunk_index"`
	Content      string  `json:"content"`
	Score        float32 `json:"score"`
	DocumentType string  `json:"document_type,omitempty"`
	Category     string  `json:"category,omitempty"`
	WordCount    int     `json:"word_count,omitempty"`
}

// Filters narrow results by exact metadata match after the vector search.
type Filters struct {
	DocumentID   string `json:"document_id,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	Category     string `json:"category,omitempty"`
}

func (f Filters) empty() bool {
	return f.DocumentID == "" && f.DocumentType == "" && f.Category == ""
}

func (f Filters) match(m vector.Metadata) bool {
	if f.DocumentID != "" && m.DocumentID != f.DocumentID {
		return false
	}
	if f.DocumentType != "" && m.DocumentType != f.DocumentType {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	return true
}

type SearchOptions struct {
	TopK    *int
	Filters Filters
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, query []float32, topK int) ([]vector.Hit, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]int, error)
}

type Service struct {
	embedder Embedder
	store    Searcher
	reranker Reranker
	logger   *QueryLogger
	topK     int
}

func NewService(e Embedder, s Searcher, r Reranker, l *QueryLogger, defaultTopK int) *Service {
	if defaultTopK <= 0 {
		defaultTopK = 10
	}
	return &Service{embedder: e, store: s, reranker: r, logger: l, topK: defaultTopK}
}

// Search embeds the query, runs nearest-neighbor search, and applies
// post-filters. With filters present it over-fetches so filtering still
// yields up to topK results.
func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	start := time.Now()
	var finalDocs []SearchResult
	var err error

	defer func() {
		if s.logger != nil && err == nil {
			s.logger.Log(QueryLogEntry{
				Query:         query,
				NumResults:    len(finalDocs),
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			})
		}
	}()

	if query == "" {
		err = ErrEmptyQuery
		return nil, err
	}

	topK := s.topK
	filters := Filters{}
	if opts != nil {
		if opts.TopK != nil && *opts.TopK > 0 {
			topK = *opts.TopK
		}
		filters = opts.Filters
	}

	var vec []float32
	vec, err = s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	fetch := topK
	if !filters.empty() {
		fetch = 4 * topK
		if fetch < 20 {
			fetch = 20
		}
	}

	var hits []vector.Hit
	hits, err = s.store.Search(ctx, vec, fetch)
	if err != nil {
		return nil, err
	}

	docs := make([]SearchResult, 0, topK)
	for _, h := range hits {
		if !filters.match(h.Metadata) {
			continue
		}
		docs = append(docs, SearchResult{
			ChunkID:      h.ID,
			DocumentID:   h.Metadata.DocumentID,
			ChunkIndex:   h.Metadata.ChunkIndex,
			Content:      h.Content,
			Score:        h.Similarity,
			DocumentType: h.Metadata.DocumentType,
			Category:     h.Metadata.Category,
			WordCount:    h.Metadata.WordCount,
		})
		if len(docs) == topK {
			break
		}
	}

	if s.reranker != nil && len(docs) > 0 {
		contents := make([]string, len(docs))
		for i, d := range docs {
			contents[i] = d.Content
		}
		var indices []int
		indices, err = s.reranker.Rerank(ctx, query, contents)
		if err != nil {
			return nil, err
		}
		reranked := make([]SearchResult, 0, len(indices))
		for _, idx := range indices {
			if idx < len(docs) {
				reranked = append(reranked, docs[idx])
			}
		}
		finalDocs = reranked
		return reranked, nil
	}

	finalDocs = docs
	return docs, nil
}
