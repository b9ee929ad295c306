package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sweetpotato0/lexcrag/agent"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"github.com/sweetpotato0/lexcrag/tool"
)

const (
	// DefaultToolTimeout is the hard limit of one tool executor run.
	DefaultToolTimeout = 10 * time.Second

	ToolTimeoutSummary    = "tool search timed out, continuing with gathered evidence"
	NoToolExecutorSummary = "no tool executor configured, continuing with gathered evidence"

	ToolSearchWeb   = "search_web_legal"
	ToolSearchLexML = "search_lexml_legislation"

	defaultToolResults = 5
	maxToolResults     = 10
	maxToolSummary     = 500
)

// ToolSearchSummary is what the tool executor gathered.
type ToolSearchSummary struct {
	TotalSources int                     `json:"total_sources"`
	Summary      string                  `json:"summary"`
	Web          []legal.DocumentSnippet `json:"web,omitempty"`
	LexML        []legal.DocumentSnippet `json:"lexml,omitempty"`
	TimedOut     bool                    `json:"timed_out,omitempty"`
}

// ToolExecutor lets a tool-calling model run complementary searches.
type ToolExecutor struct {
	llm           agent.LLMClient
	web           retrieval.WebSearcher
	jurisprudence retrieval.JurisprudenceSearcher
	extra         []*tool.Tool
	timeout       time.Duration
	logger        *slog.Logger
}

type ToolOption func(*ToolExecutor)

func WithToolTimeout(d time.Duration) ToolOption {
	return func(t *ToolExecutor) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithExtraTools offers additional tools, such as those of a remote MCP
// server, next to the built-in searches.
func WithExtraTools(tools ...*tool.Tool) ToolOption {
	return func(t *ToolExecutor) { t.extra = append(t.extra, tools...) }
}

// NewToolExecutor offers the web and legislation tools that have a searcher.
func NewToolExecutor(llm agent.LLMClient, web retrieval.WebSearcher, jurisprudence retrieval.JurisprudenceSearcher, opts ...ToolOption) *ToolExecutor {
	t := &ToolExecutor{
		llm:           llm,
		web:           web,
		jurisprudence: jurisprudence,
		timeout:       DefaultToolTimeout,
		logger:        logging.WithComponent("tool_executor"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// gathered collects tool results; handlers may still run after a timeout.
type gathered struct {
	mu    sync.Mutex
	web   []legal.DocumentSnippet
	lexml []legal.DocumentSnippet
}

func (g *gathered) snapshot() ([]legal.DocumentSnippet, []legal.DocumentSnippet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]legal.DocumentSnippet(nil), g.web...), append([]legal.DocumentSnippet(nil), g.lexml...)
}

func (t *ToolExecutor) tools(g *gathered) []agent.Option {
	var opts []agent.Option
	if t.web != nil {
		opts = append(opts, agent.WithTool(&tool.Tool{
			Name:        ToolSearchWeb,
			Description: "Search the web for recent legal information, news and commentary",
			Parameters: []tool.Parameter{
				{Name: "query", Type: "string", Description: "Search query", Required: true},
				{Name: "max_results", Type: "integer", Description: "Maximum number of results", Default: defaultToolResults},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				docs, err := t.web.Search(ctx, tool.StringArg(args, "query", ""), clampResults(args))
				if err != nil {
					return "", err
				}
				g.mu.Lock()
				g.web = append(g.web, docs...)
				g.mu.Unlock()
				return formatResults(docs), nil
			},
		}))
	}
	if t.jurisprudence != nil {
		opts = append(opts, agent.WithTool(&tool.Tool{
			Name:        ToolSearchLexML,
			Description: "Search official Brazilian legislation and case law in LexML",
			Parameters: []tool.Parameter{
				{Name: "term", Type: "string", Description: "Search term", Required: true},
				{Name: "max_results", Type: "integer", Description: "Maximum number of results", Default: defaultToolResults},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				res, err := t.jurisprudence.Search(ctx, tool.StringArg(args, "term", ""), clampResults(args))
				if err != nil {
					return "", err
				}
				g.mu.Lock()
				g.lexml = append(g.lexml, res.Documents...)
				g.mu.Unlock()
				return formatResults(res.Documents), nil
			},
		}))
	}
	for _, extra := range t.extra {
		opts = append(opts, agent.WithTool(extra))
	}
	return opts
}

func clampResults(args map[string]any) int {
	return min(max(tool.IntArg(args, "max_results", defaultToolResults), 1), maxToolResults)
}

func formatResults(docs []legal.DocumentSnippet) string {
	if len(docs) == 0 {
		return "no results"
	}
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, d.Metadata.Title, d.Metadata.Authority, d.Preview(300))
	}
	return b.String()
}

// Search runs the tool loop once under the hard timeout. It never fails;
// problems are described in the summary.
func (t *ToolExecutor) Search(ctx context.Context, query string) ToolSearchSummary {
	if t == nil || t.llm == nil {
		return ToolSearchSummary{Summary: NoToolExecutorSummary}
	}
	g := &gathered{}
	a := agent.New(append(t.tools(g),
		agent.WithName("tool_executor"),
		agent.WithProvider(t.llm),
		agent.WithSystemPrompt(toolSystemPrompt),
		agent.WithMaxIterations(3),
		agent.WithSettings(&agent.Settings{Temperature: agent.Temperature(0)}),
	)...)

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		res *agent.RunResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.Run(runCtx, fmt.Sprintf(toolTemplate, query))
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		out.err = runCtx.Err()
	}

	web, lexml := g.snapshot()
	summary := ToolSearchSummary{TotalSources: len(web) + len(lexml), Web: web, LexML: lexml}
	switch {
	case out.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		t.logger.Warn("tool executor stopped", "error", errorskg.ErrToolTimeout, "timeout", t.timeout, "gathered", summary.TotalSources)
		summary.Summary, summary.TimedOut = ToolTimeoutSummary, true
	case out.err != nil:
		t.logger.Warn("tool executor failed", "error", out.err)
		summary.Summary = fmt.Sprintf("tool search failed: %v", out.err)
	default:
		summary.Summary = legal.TruncateRunes(strings.TrimSpace(out.res.Content), maxToolSummary)
		if summary.Summary == "" {
			summary.Summary = "tool searches completed"
		}
	}
	return summary
}

const toolSystemPrompt = "You run legal searches with the available tools. Call each tool at most once, then summarise what you found in a few sentences."

const toolTemplate = `Question: %s

Use the search tools once each to find complementary legislation, case law and recent information. Then give a short summary of the findings.`
