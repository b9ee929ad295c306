// Package cohere reranks vector hits with the Cohere rerank API.
package cohere

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sweetpotato0/lexcrag/contrib/provider"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"github.com/sweetpotato0/lexcrag/vector"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultEndpoint = "https://api.cohere.com/v2/rerank"
	// DefaultModel handles Portuguese.
	DefaultModel = "rerank-multilingual-v3.0"
)

// Client implements retrieval.Reranker.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	fallback   retrieval.Reranker
	logger     *slog.Logger
}

var _ retrieval.Reranker = (*Client)(nil)

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithFallback sets the reranker used when the API call fails.
func WithFallback(r retrieval.Reranker) Option {
	return func(c *Client) { c.fallback = r }
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("cohere rerank: %w", errorskg.ErrProviderNotConfigured)
	}
	c := &Client{
		apiKey:     apiKey,
		model:      DefaultModel,
		endpoint:   defaultEndpoint,
		httpClient: provider.NewHTTPClient(),
		logger:     logging.WithComponent("cohere_rerank"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores hits against the query text. Returned scores are Cohere
// relevance scores. On failure the fallback reranker is used if set.
func (c *Client) Rerank(ctx context.Context, query string, queryVector []float32, hits []*vector.Embedding, k int) ([]*vector.Embedding, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	if k <= 0 || k > len(hits) {
		k = len(hits)
	}
	ranked, err := c.rerank(ctx, query, hits, k)
	if err == nil {
		return ranked, nil
	}
	if c.fallback == nil {
		return nil, err
	}
	c.logger.WarnContext(ctx, "rerank API failed, using fallback", "error", err)
	return c.fallback.Rerank(ctx, query, queryVector, hits, k)
}

func (c *Client) rerank(ctx context.Context, query string, hits []*vector.Embedding, k int) (_ []*vector.Embedding, err error) {
	ctx, span := telemetry.Start(ctx, "rerank.cohere", attribute.Int("rerank.candidates", len(hits)))
	defer func() { telemetry.End(span, err) }()

	docs := make([]string, len(hits))
	for i, h := range hits {
		if h != nil {
			docs[i] = h.Text
		}
	}
	var out rerankResponse
	err = provider.PostJSON(ctx, c.httpClient, "cohere rerank", c.endpoint, c.apiKey,
		rerankRequest{Model: c.model, Query: query, Documents: docs, TopN: k}, &out)
	if err != nil {
		return nil, err
	}

	ranked := make([]*vector.Embedding, 0, k)
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(hits) || hits[r.Index] == nil || len(ranked) == k {
			continue
		}
		h := *hits[r.Index]
		h.Score = r.RelevanceScore
		ranked = append(ranked, &h)
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("cohere rerank returned no results")
	}
	return ranked, nil
}
