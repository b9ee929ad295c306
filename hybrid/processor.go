// Package hybrid coordinates the reasoning and tool-calling providers that
// turn gathered evidence into a reviewed final answer.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/crag"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/observability"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"github.com/sweetpotato0/lexcrag/review"
	"github.com/sweetpotato0/lexcrag/synthesis"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Progress stages reported by the processor.
const (
	StageDecision  = "decision"
	StageSearch    = "search"
	StageTools     = "tools"
	StageAnalysis  = "analysis"
	StageSynthesis = "synthesis"
	StageReview    = "review"
)

// AnalysisFailedWarning is added when the analysis call fails and the raw
// evidence is synthesized instead.
const AnalysisFailedWarning = "legal analysis failed, raw evidence used"

// Deps are the collaborators of a Processor. Only Reasoner is required; the
// searchers are used by standalone runs.
type Deps struct {
	Reasoner      agent.LLMClient
	Tools         *ToolExecutor
	Vector        retrieval.VectorSearcher
	Jurisprudence retrieval.JurisprudenceSearcher
	Web           retrieval.WebSearcher
	Synthesizer   *synthesis.Synthesizer
	Reviewer      *review.Reviewer
	Sink          observability.Sink
}

type Option func(*Processor)

// WithRetryDelay sets the base delay between search attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Processor) { p.retryDelay = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// Processor runs the hybrid stages. It keeps no per-run state.
type Processor struct {
	deps       Deps
	decider    *Decider
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ crag.Synthesizer = (*Processor)(nil)

func NewProcessor(deps Deps, opts ...Option) (*Processor, error) {
	if deps.Reasoner == nil {
		return nil, fmt.Errorf("hybrid: %w: reasoner is required", errorskg.ErrInvalidInput)
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = synthesis.New(deps.Reasoner)
	}
	if deps.Reviewer == nil {
		deps.Reviewer = review.New(deps.Reasoner)
	}
	if deps.Sink == nil {
		deps.Sink = observability.Nop
	}
	p := &Processor{
		deps:       deps,
		decider:    NewDecider(deps.Reasoner),
		retryDelay: retrieval.DefaultRetryDelay,
		logger:     logging.WithComponent("hybrid"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Synthesize answers from CRAG evidence: the integrated mode.
func (p *Processor) Synthesize(ctx context.Context, ev crag.Evidence, report crag.Reporter) (resp *legal.FinalResponse, err error) {
	ctx, span := telemetry.Start(ctx, "hybrid.integrated", attribute.String("query.id", ev.Query.ID))
	defer func() { telemetry.End(span, err) }()

	digest := Digest(ev.Documents, ev.Web, ev.Jurisprudence)
	return p.finish(ctx, ev.Query, ev.CurrentQuery, digest, ev.Warnings, ev.Config, report)
}

// Run answers q without CRAG: the standalone mode. The only error is
// errors.ErrNoReasoningProvider.
func (p *Processor) Run(ctx context.Context, q legal.Query, cfg legal.ProcessingConfig, report crag.Reporter) (resp *legal.FinalResponse, err error) {
	ctx, span := telemetry.Start(ctx, "hybrid.standalone", attribute.String("query.id", q.ID))
	defer func() { telemetry.End(span, err) }()

	report.Stage(StageDecision, "deciding which sources to search")
	decision, derr := p.decider.Decide(ctx, q.Text)
	if derr != nil {
		p.logger.Warn("search decision failed, searching every source", "query_id", q.ID, "error", derr)
	}
	span.SetAttributes(
		attribute.Bool("decision.vectordb", decision.VectorDB),
		attribute.Bool("decision.web", decision.Web),
		attribute.Float64("decision.confidence", decision.Confidence),
	)

	report.Stage(StageSearch, "searching the selected sources")
	g := p.gather(ctx, q.Text, decision, cfg)
	var warnings []string
	for _, slot := range g {
		if !slot.ran {
			continue
		}
		if slot.warning != "" {
			warnings = append(warnings, slot.warning)
		}
		observability.Emit(ctx, p.deps.Sink, slot.checkpoint, map[string]any{
			"query":     q.Text,
			"documents": len(slot.result.Documents),
			"success":   slot.result.Success,
		})
	}
	digest := Digest(g[slotVector].result.Documents, g[slotWeb].result.Documents, g[slotJurisprudence].result.Documents)
	return p.finish(ctx, q, q.Text, digest, warnings, cfg, report)
}

const (
	slotVector = iota
	slotWeb
	slotJurisprudence
)

type sourceSlot struct {
	ran        bool
	checkpoint string
	result     legal.SearchResult
	warning    string
}

// gather searches the chosen sources concurrently. Each goroutine writes
// only its own slot and all of them finish before gather returns.
func (p *Processor) gather(ctx context.Context, query string, d SearchDecision, cfg legal.ProcessingConfig) [3]sourceSlot {
	var slots [3]sourceSlot
	policy := retrieval.RetryPolicy(cfg, p.retryDelay)
	limit := cfg.MaxDocumentsPerSource
	eg, ctx := errgroup.WithContext(ctx)

	run := func(i int, kind, checkpoint string, source legal.SearchSource, fn func(context.Context) ([]legal.DocumentSnippet, error)) {
		eg.Go(func() error {
			start := time.Now()
			docs, err := retrieval.Call(ctx, kind, policy, cfg.SearchTimeout(), fn)
			if err != nil || docs == nil {
				docs = []legal.DocumentSnippet{}
			}
			slot := sourceSlot{ran: true, checkpoint: checkpoint, result: legal.SearchResult{
				Query: query, Source: source, Documents: docs, TotalCount: len(docs),
				Latency: time.Since(start), Success: err == nil,
			}}
			if err != nil {
				slot.result.Error = err.Error()
				slot.warning = fmt.Sprintf("%s failed: %v", kind, err)
				p.logger.Warn("source search failed", "source", source, "error", err)
			}
			slots[i] = slot
			return nil
		})
	}

	if d.VectorDB && p.deps.Vector != nil {
		run(slotVector, "vector search", observability.RetrievalVectorDB, legal.SourceVectorDB, func(ctx context.Context) ([]legal.DocumentSnippet, error) {
			return p.deps.Vector.Search(ctx, query, limit)
		})
	}
	if d.Web && cfg.EnableWebSearch && p.deps.Web != nil {
		run(slotWeb, "web search", observability.RetrievalWeb, legal.SourceWeb, func(ctx context.Context) ([]legal.DocumentSnippet, error) {
			return p.deps.Web.Search(ctx, query, limit)
		})
	}
	if (d.LexML || d.Jurisprudence) && cfg.EnableJurisprudenceSearch && p.deps.Jurisprudence != nil {
		run(slotJurisprudence, "jurisprudence search", observability.RetrievalLexML, legal.SourceLexML, func(ctx context.Context) ([]legal.DocumentSnippet, error) {
			res, err := p.deps.Jurisprudence.Search(ctx, query, limit)
			return res.Documents, err
		})
	}
	_ = eg.Wait()
	return slots
}

// finish runs tools, analysis, synthesis and review, then assembles.
func (p *Processor) finish(ctx context.Context, q legal.Query, toolQuery, digest string, warnings []string, cfg legal.ProcessingConfig, report crag.Reporter) (*legal.FinalResponse, error) {
	warnings = append([]string(nil), warnings...)

	report.Stage(StageTools, "running complementary searches")
	tools := p.deps.Tools.Search(ctx, toolQuery)
	observability.Emit(ctx, p.deps.Sink, observability.HybridTools, map[string]any{
		"total_sources": tools.TotalSources,
		"timed_out":     tools.TimedOut,
		"summary":       tools.Summary,
	})
	if extra := Digest(nil, tools.Web, tools.LexML); extra != "" {
		digest = digest + "\n\nCOMPLEMENTARY " + extra
	}

	report.Stage(StageAnalysis, "analysing the evidence")
	analysis, err := analyze(ctx, p.deps.Reasoner, q.Text, digest, tools, cfg)
	if errors.Is(err, errorskg.ErrNoReasoningProvider) {
		return nil, err
	}
	if err != nil || analysis == "" {
		p.logger.Warn("analysis failed, using raw evidence", "query_id", q.ID, "error", err)
		analysis = digest
		warnings = append(warnings, AnalysisFailedWarning)
	}

	report.Stage(StageSynthesis, "writing the answer")
	res, err := p.deps.Synthesizer.Synthesize(ctx, q.Text, analysis, cfg, report.Emit)
	if err != nil {
		return nil, err
	}
	observability.Emit(ctx, p.deps.Sink, observability.SynthesisCompleted, map[string]any{
		"sections":  len(res.Sections),
		"fallback":  res.Fallback,
		"templated": res.Templated,
		"calls":     res.Calls,
		"words":     synthesis.WordCount(res.Text),
	})

	report.Stage(StageReview, "reviewing quality and guardrails")
	quality := p.deps.Reviewer.Quality(ctx, res.Text, cfg)
	guard := p.deps.Reviewer.Guardrails(ctx, res.Text, cfg)

	return Assemble(AssembleInput{
		QueryID:   q.ID,
		Query:     q.Text,
		Analysis:  analysis,
		Summary:   res.Text,
		Warnings:  warnings,
		Quality:   quality,
		Guardrail: guard,
	})
}
