package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pipeline"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/retrieval"
)

// Tool names served.
const (
	ToolSearchWeb   = "search_web_legal"
	ToolSearchLexML = "search_lexml_legislation"
	ToolAsk         = "ask"
)

const (
	defaultResults = 5
	maxResults     = 10
)

// Answerer answers a full legal question. *pipeline.Service satisfies it.
type Answerer interface {
	Answer(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error)
}

// ServerDeps selects what the server offers. A nil field leaves its tool out.
type ServerDeps struct {
	Web           retrieval.WebSearcher
	Jurisprudence retrieval.JurisprudenceSearcher
	Answerer      Answerer
	Version       string
}

// NewServer builds the MCP server shared by the stdio and HTTP transports.
func NewServer(deps ServerDeps) *sdkmcp.Server {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "lexcrag",
		Title:   "Brazilian legal research",
		Version: version,
	}, nil)

	if deps.Web != nil {
		addWebTool(server, deps.Web)
	}
	if deps.Jurisprudence != nil {
		addLexMLTool(server, deps.Jurisprudence)
	}
	if deps.Answerer != nil {
		addAskTool(server, deps.Answerer)
	}
	return server
}

// HTTPHandler serves server on the streamable HTTP transport.
func HTTPHandler(server *sdkmcp.Server) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return server }, nil)
}

// ServeStdio serves server on stdin/stdout until ctx ends or the peer hangs up.
func ServeStdio(ctx context.Context, server *sdkmcp.Server) error {
	logging.WithComponent("mcp").Info("serving mcp over stdio")
	return server.Run(ctx, &sdkmcp.StdioTransport{})
}

type hit struct {
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	Authority string  `json:"authority,omitempty"`
	Date      string  `json:"date,omitempty"`
	Score     float64 `json:"score"`
	Excerpt   string  `json:"excerpt"`
}

func hits(docs []legal.DocumentSnippet) []hit {
	out := make([]hit, 0, len(docs))
	for _, d := range docs {
		out = append(out, hit{
			Title:     d.Metadata.Title,
			URL:       d.Metadata.URL,
			Authority: d.Metadata.Authority,
			Date:      d.Metadata.PublishedAt,
			Score:     d.RelevanceScore,
			Excerpt:   d.Preview(500),
		})
	}
	return out
}

func jsonResult(v any) (*sdkmcp.CallToolResult, any, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(raw)}}}, nil, nil
}

func clamp(n int) int {
	if n <= 0 {
		return defaultResults
	}
	return min(n, maxResults)
}

func addWebTool(server *sdkmcp.Server, web retrieval.WebSearcher) {
	type args struct {
		Query      string `json:"query" jsonschema:"Search query"`
		MaxResults int    `json:"max_results,omitempty" jsonschema:"Maximum number of results, 1 to 10"`
	}
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        ToolSearchWeb,
		Description: "Search the web for recent Brazilian legal information, news and commentary",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, a args) (*sdkmcp.CallToolResult, any, error) {
		query := strings.TrimSpace(a.Query)
		if query == "" {
			return nil, nil, fmt.Errorf("query is required")
		}
		docs, err := web.Search(ctx, query, clamp(a.MaxResults))
		if err != nil {
			return nil, nil, fmt.Errorf("web search: %w", err)
		}
		return jsonResult(map[string]any{"query": query, "results": hits(docs)})
	})
}

func addLexMLTool(server *sdkmcp.Server, jur retrieval.JurisprudenceSearcher) {
	type args struct {
		Term       string `json:"term" jsonschema:"Legal term or topic"`
		MaxResults int    `json:"max_results,omitempty" jsonschema:"Maximum number of results, 1 to 10"`
	}
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        ToolSearchLexML,
		Description: "Search official Brazilian legislation and case law in LexML",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, a args) (*sdkmcp.CallToolResult, any, error) {
		term := strings.TrimSpace(a.Term)
		if term == "" {
			return nil, nil, fmt.Errorf("term is required")
		}
		res, err := jur.Search(ctx, term, clamp(a.MaxResults))
		if err != nil {
			return nil, nil, fmt.Errorf("lexml search: %w", err)
		}
		return jsonResult(map[string]any{
			"term":        term,
			"cql":         res.CQL,
			"total_found": max(res.TotalFound, len(res.Documents)),
			"results":     hits(res.Documents),
		})
	})
}

func addAskTool(server *sdkmcp.Server, answerer Answerer) {
	type args struct {
		Question string `json:"question" jsonschema:"Legal question, at least 10 characters"`
		Mode     string `json:"mode,omitempty" jsonschema:"integrated (default) or standalone"`
	}
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        ToolAsk,
		Description: "Answer a Brazilian legal question with cited research and a confidence score",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, a args) (*sdkmcp.CallToolResult, any, error) {
		resp, err := answerer.Answer(ctx, pipeline.Request{Text: a.Question, Mode: pipeline.Mode(a.Mode)})
		if err != nil {
			return nil, nil, err
		}
		var b strings.Builder
		b.WriteString(resp.OverallSummary)
		fmt.Fprintf(&b, "\n\nStatus: %s. Confidence: %.2f. Completeness: %.2f.", resp.Status, resp.Confidence, resp.Completeness)
		for _, w := range resp.Warnings {
			b.WriteString("\nWarning: " + w)
		}
		b.WriteString("\n\n" + resp.Disclaimer)
		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: b.String()}},
			IsError: resp.Status == legal.StatusFailed,
		}, nil, nil
	})
}
