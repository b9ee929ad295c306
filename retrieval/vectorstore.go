package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/vector"
)

// Reranker reorders vector hits for a query and keeps at most k.
type Reranker interface {
	Rerank(ctx context.Context, query string, queryVector []float32, hits []*vector.Embedding, k int) ([]*vector.Embedding, error)
}

type StoreOption func(*StoreSearcher)

// WithReranker fetches fanout times k hits and lets r pick the final k.
func WithReranker(r Reranker, fanout int) StoreOption {
	return func(s *StoreSearcher) {
		s.reranker = r
		s.fanout = max(fanout, 1)
	}
}

// StoreSearcher embeds the query and searches a vector store.
type StoreSearcher struct {
	embedder vector.Embedder
	store    vector.VectorStore
	reranker Reranker
	fanout   int
	logger   *slog.Logger
}

var _ VectorSearcher = (*StoreSearcher)(nil)

func NewStoreSearcher(embedder vector.Embedder, store vector.VectorStore, opts ...StoreOption) *StoreSearcher {
	s := &StoreSearcher{embedder: embedder, store: store, fanout: 1, logger: logging.WithComponent("vector_search")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StoreSearcher) Search(ctx context.Context, text string, k int) ([]legal.DocumentSnippet, error) {
	if strings.TrimSpace(text) == "" || k <= 0 {
		return []legal.DocumentSnippet{}, nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.Search(ctx, vec, k*s.fanout)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits = s.rerank(ctx, text, vec, hits, k)

	out := make([]legal.DocumentSnippet, 0, len(hits))
	for _, h := range hits {
		if h == nil || strings.TrimSpace(h.Text) == "" {
			continue
		}
		snippet, err := legal.NewSnippet(h.ID, h.Text, embeddingMetadata(h), float64(h.Score))
		if err != nil {
			continue
		}
		out = append(out, snippet)
	}
	return out, nil
}

// rerank falls back to store order when the reranker fails.
func (s *StoreSearcher) rerank(ctx context.Context, text string, vec []float32, hits []*vector.Embedding, k int) []*vector.Embedding {
	if s.reranker != nil && len(hits) > 1 {
		ranked, err := s.reranker.Rerank(ctx, text, vec, hits, k)
		if err == nil {
			hits = ranked
		} else {
			s.logger.WarnContext(ctx, "rerank failed, keeping similarity order", "error", err)
		}
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func embeddingMetadata(e *vector.Embedding) legal.SnippetMetadata {
	meta := legal.SnippetMetadata{
		SourceType: legal.SourceVectorDB,
		Confidence: float64(e.Score),
	}
	if e.Metadata == nil {
		return meta
	}
	if src := e.Metadata[vector.MetaSource]; src != "" {
		meta.SourceType = legal.SearchSource(src)
	}
	meta.Authority = e.Metadata[vector.MetaAuthority]
	meta.Jurisdiction = legal.JurisdictionType(e.Metadata[vector.MetaJurisdiction])
	meta.Title = e.Metadata[vector.MetaTitle]
	meta.URL = e.Metadata[vector.MetaURL]
	return meta
}
