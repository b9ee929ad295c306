// Package retrieval defines the search collaborators used by the CRAG
// workflow and the hybrid processor, along with shared adapters.
package retrieval

import (
	"context"

	"github.com/sweetpotato0/lexcrag/legal"
)

// VectorSearcher finds passages similar to a query. An empty index yields an
// empty slice.
type VectorSearcher interface {
	Search(ctx context.Context, text string, k int) ([]legal.DocumentSnippet, error)
}

// JurisprudenceResult is the outcome of a jurisprudence search. CQL is the
// first query sent, before any broadening.
type JurisprudenceResult struct {
	Documents  []legal.DocumentSnippet `json:"documents"`
	TotalFound int                     `json:"total_found"`
	CQL        string                  `json:"cql"`
}

// JurisprudenceSearcher searches case law and legislation.
type JurisprudenceSearcher interface {
	Search(ctx context.Context, term string, max int) (JurisprudenceResult, error)
}

// WebSearcher searches the open web.
type WebSearcher interface {
	Search(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error)
}

// VectorSearchFunc adapts a function to VectorSearcher.
type VectorSearchFunc func(ctx context.Context, text string, k int) ([]legal.DocumentSnippet, error)

func (f VectorSearchFunc) Search(ctx context.Context, text string, k int) ([]legal.DocumentSnippet, error) {
	return f(ctx, text, k)
}

// JurisprudenceSearchFunc adapts a function to JurisprudenceSearcher.
type JurisprudenceSearchFunc func(ctx context.Context, term string, max int) (JurisprudenceResult, error)

func (f JurisprudenceSearchFunc) Search(ctx context.Context, term string, max int) (JurisprudenceResult, error) {
	return f(ctx, term, max)
}

// WebSearchFunc adapts a function to WebSearcher.
type WebSearchFunc func(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error)

func (f WebSearchFunc) Search(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error) {
	return f(ctx, query, max)
}
