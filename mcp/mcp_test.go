package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pipeline"
	"github.com/sweetpotato0/lexcrag/retrieval"
)

type answerFunc func(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error)

func (f answerFunc) Answer(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error) {
	return f(ctx, req)
}

func connectTo(t *testing.T, server *sdkmcp.Server) *Client {
	t.Helper()
	ctx := context.Background()
	serverSide, clientSide := sdkmcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverSide, nil)
	require.NoError(t, err)
	c, err := Connect(ctx, clientSide)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		_ = ss.Close()
	})
	return c
}

func testSnippet(t *testing.T, source legal.SearchSource, title string) legal.DocumentSnippet {
	t.Helper()
	s, err := legal.NewSnippet("id", "Art. 1.052 do Código Civil trata da responsabilidade dos sócios.",
		legal.SnippetMetadata{SourceType: source, Title: title, Authority: "Senado", URL: "https://www.lexml.gov.br/urn/x"}, 0.7)
	require.NoError(t, err)
	return s
}

func TestServerOffersConfiguredTools(t *testing.T) {
	web := retrieval.WebSearchFunc(func(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error) {
		return nil, nil
	})
	c := connectTo(t, NewServer(ServerDeps{Web: web}))

	tools, err := c.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, ToolSearchWeb, tools[0].Name)

	names := map[string]bool{}
	for _, p := range tools[0].Parameters {
		names[p.Name] = p.Required
	}
	assert.Equal(t, map[string]bool{"query": true, "max_results": false}, names)
}

func TestLexMLToolClampsResults(t *testing.T) {
	var gotMax int
	jur := retrieval.JurisprudenceSearchFunc(func(ctx context.Context, term string, max int) (retrieval.JurisprudenceResult, error) {
		gotMax = max
		return retrieval.JurisprudenceResult{
			Documents:  []legal.DocumentSnippet{testSnippet(t, legal.SourceLexML, "Lei 10.406/2002")},
			TotalFound: 40,
			CQL:        "(sociedade AND limitada)",
		}, nil
	})
	c := connectTo(t, NewServer(ServerDeps{Jurisprudence: jur}))

	text, err := c.Call(context.Background(), ToolSearchLexML, map[string]any{"term": "sociedade limitada", "max_results": 50})
	require.NoError(t, err)
	assert.Equal(t, maxResults, gotMax)

	var out struct {
		CQL        string `json:"cql"`
		TotalFound int    `json:"total_found"`
		Results    []hit  `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, "(sociedade AND limitada)", out.CQL)
	assert.Equal(t, 40, out.TotalFound)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "Lei 10.406/2002", out.Results[0].Title)
}

func TestToolErrorsSurfaceToCaller(t *testing.T) {
	web := retrieval.WebSearchFunc(func(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error) {
		return nil, errors.New("quota exceeded")
	})
	c := connectTo(t, NewServer(ServerDeps{Web: web}))

	_, err := c.Call(context.Background(), ToolSearchWeb, map[string]any{"query": "lei do inquilinato"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestAskTool(t *testing.T) {
	var got pipeline.Request
	answer := answerFunc(func(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error) {
		got = req
		return &legal.FinalResponse{
			OverallSummary: "Sócios respondem até o valor de suas quotas.",
			Confidence:     0.8,
			Completeness:   0.75,
			Warnings:       []string{"web search failed: timeout"},
			Disclaimer:     legal.DefaultDisclaimer,
			Status:         legal.StatusCompleted,
		}, nil
	})
	c := connectTo(t, NewServer(ServerDeps{Answerer: answer}))

	text, err := c.Call(context.Background(), ToolAsk, map[string]any{"question": "Qual a responsabilidade dos sócios?", "mode": "standalone"})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ModeStandalone, got.Mode)
	assert.Contains(t, text, "Sócios respondem")
	assert.Contains(t, text, "Confidence: 0.80")
	assert.Contains(t, text, "Warning: web search failed: timeout")
	assert.Contains(t, text, legal.DefaultDisclaimer)
}

func TestRemoteToolsRunThroughSession(t *testing.T) {
	var gotQuery string
	web := retrieval.WebSearchFunc(func(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error) {
		gotQuery = query
		return []legal.DocumentSnippet{testSnippet(t, legal.SourceWeb, "Notícia")}, nil
	})
	c := connectTo(t, NewServer(ServerDeps{Web: web, Answerer: answerFunc(nil)}))

	tools, err := c.Tools(context.Background(), ToolAsk)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	out, err := tools[0].Execute(context.Background(), map[string]any{"query": "usucapião"})
	require.NoError(t, err)
	assert.Equal(t, "usucapião", gotQuery)
	assert.Contains(t, out, "Notícia")
}

func TestClosedClient(t *testing.T) {
	c := connectTo(t, NewServer(ServerDeps{}))
	require.NoError(t, c.Close())
	<-c.Done()

	_, err := c.Call(context.Background(), ToolAsk, nil)
	assert.ErrorIs(t, err, ErrClientClosed)
	_, err = c.Tools(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
}
