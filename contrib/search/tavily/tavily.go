// Package tavily is a web search client for the Tavily API.
package tavily

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sweetpotato0/lexcrag/contrib/provider"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"github.com/sweetpotato0/lexcrag/rag/preprocess"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultBaseURL = "https://api.tavily.com"

// Config configures the client.
type Config struct {
	APIKey      string
	BaseURL     string
	SearchDepth string // basic or advanced
	MaxResults  int
}

func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, SearchDepth: "basic", MaxResults: 5}
}

// Client implements retrieval.WebSearcher.
type Client struct {
	config Config
	http   *http.Client
}

var _ retrieval.WebSearcher = (*Client)(nil)

// New fails without an API key; callers then run without web search.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("tavily: %w", errorskg.ErrProviderNotConfigured)
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = def.SearchDepth
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if httpClient == nil {
		httpClient = provider.NewHTTPClient()
	}
	return &Client{config: cfg, http: httpClient}, nil
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

// Result is one Tavily hit.
type Result struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searchResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Raw returns the unconverted Tavily results.
func (c *Client) Raw(ctx context.Context, query string, max int) (_ []Result, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("tavily: empty query: %w", errorskg.ErrInvalidInput)
	}
	if max <= 0 {
		max = c.config.MaxResults
	}
	ctx, span := telemetry.Start(ctx, "search.tavily", attribute.Int("tavily.max_results", max))
	defer func() { telemetry.End(span, err) }()

	var out searchResponse
	url := strings.TrimRight(c.config.BaseURL, "/") + "/search"
	err = provider.PostJSON(ctx, c.http, "tavily", url, c.config.APIKey, searchRequest{
		APIKey:      c.config.APIKey,
		Query:       query,
		MaxResults:  max,
		SearchDepth: c.config.SearchDepth,
	}, &out)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("tavily.results", len(out.Results)))
	return out.Results, nil
}

func (c *Client) Search(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error) {
	results, err := c.Raw(ctx, query, max)
	if err != nil {
		return nil, err
	}
	out := make([]legal.DocumentSnippet, 0, len(results))
	for _, r := range results {
		text := preprocess.Snippet(r.Content)
		if text == "" {
			continue
		}
		snippet, err := legal.NewSnippet(r.URL, text, legal.SnippetMetadata{
			SourceType:   legal.SourceWeb,
			Authority:    hostOf(r.URL),
			Jurisdiction: legal.JurisdictionUnknown,
			Confidence:   r.Score,
			Title:        r.Title,
			URL:          r.URL,
		}, r.Score)
		if err != nil {
			continue
		}
		out = append(out, snippet)
	}
	return out, nil
}

func hostOf(raw string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "www.")
}
