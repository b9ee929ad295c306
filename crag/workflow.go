// Package crag runs the corrective retrieval workflow: vector retrieval,
// relevance grading, query rewriting, jurisprudence search, web-need
// evaluation, optional web search and answer synthesis.
package crag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/lexcrag/agent"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/graph"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/observability"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"go.opentelemetry.io/otel/attribute"
)

// Node names of the workflow graph.
const (
	NodeRetrieve        = "retrieve"
	NodeGrade           = "grade"
	NodeGradeRoute      = "grade_route"
	NodeTransform       = "transform"
	NodeLexML           = "lexml"
	NodeEvaluateWebNeed = "evaluate_web_need"
	NodeWebRoute        = "web_route"
	NodeWebSearch       = "web_search"
	NodeSynthesize      = "synthesize"
	NodeError           = "error"
	NodeEnd             = "end"
)

// Synthesizer turns the gathered evidence into the final response. It returns
// errors.ErrNoReasoningProvider when no model can be reached.
type Synthesizer interface {
	Synthesize(ctx context.Context, ev Evidence, report Reporter) (*legal.FinalResponse, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, ev Evidence, report Reporter) (*legal.FinalResponse, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, ev Evidence, report Reporter) (*legal.FinalResponse, error) {
	return f(ctx, ev, report)
}

// Deps are the collaborators of a workflow. Vector, Jurisprudence and Web may
// be nil; the matching step then records a warning and continues.
type Deps struct {
	Vector        retrieval.VectorSearcher
	Jurisprudence retrieval.JurisprudenceSearcher
	Web           retrieval.WebSearcher
	// LLM grades, rewrites and evaluates.
	LLM         agent.LLMClient
	Synthesizer Synthesizer
	Sink        observability.Sink
}

type Option func(*Workflow)

// WithRetryDelay sets the base delay between search attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(w *Workflow) { w.retryDelay = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// Workflow is safe for concurrent runs; all per-run data lives in RunState.
type Workflow struct {
	deps       Deps
	grader     *Grader
	rewriter   *Rewriter
	evaluator  *Evaluator
	graph      *graph.Graph[RunState, Update]
	retryDelay time.Duration
	logger     *slog.Logger
}

func New(deps Deps, opts ...Option) (*Workflow, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("crag: %w: LLM client is required", errorskg.ErrInvalidInput)
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("crag: %w: synthesizer is required", errorskg.ErrInvalidInput)
	}
	if deps.Sink == nil {
		deps.Sink = observability.Nop
	}
	w := &Workflow{
		deps:       deps,
		grader:     NewGrader(deps.LLM),
		rewriter:   NewRewriter(deps.LLM),
		evaluator:  NewEvaluator(deps.LLM),
		retryDelay: retrieval.DefaultRetryDelay,
		logger:     logging.WithComponent("crag"),
	}
	for _, opt := range opts {
		opt(w)
	}

	g, err := graph.NewBuilder[RunState, Update](Merge).
		AddNode(NodeRetrieve, graph.NodeTypeStart, w.traced(NodeRetrieve, w.retrieve)).
		AddNode(NodeGrade, graph.NodeTypeCustom, w.traced(NodeGrade, w.grade)).
		AddConditionNode(NodeGradeRoute, routeGrade, map[string]string{
			NodeTransform: NodeTransform,
			NodeLexML:     NodeLexML,
		}).
		AddNode(NodeTransform, graph.NodeTypeCustom, w.traced(NodeTransform, w.transform)).
		AddNode(NodeLexML, graph.NodeTypeCustom, w.traced(NodeLexML, w.lexml)).
		AddNode(NodeEvaluateWebNeed, graph.NodeTypeCustom, w.traced(NodeEvaluateWebNeed, w.evaluateWebNeed)).
		AddConditionNode(NodeWebRoute, routeWeb, map[string]string{
			NodeWebSearch:  NodeWebSearch,
			NodeSynthesize: NodeSynthesize,
		}).
		AddNode(NodeWebSearch, graph.NodeTypeCustom, w.traced(NodeWebSearch, w.webSearch)).
		AddNode(NodeSynthesize, graph.NodeTypeCustom, w.traced(NodeSynthesize, w.synthesize)).
		AddNode(NodeError, graph.NodeTypeError, w.traced(NodeError, w.fail)).
		AddNode(NodeEnd, graph.NodeTypeEnd, func(context.Context, RunState) (Update, error) { return Update{}, nil }).
		AddEdge(NodeRetrieve, NodeGrade).
		AddEdge(NodeGrade, NodeGradeRoute).
		AddEdge(NodeTransform, NodeLexML).
		AddEdge(NodeLexML, NodeEvaluateWebNeed).
		AddEdge(NodeEvaluateWebNeed, NodeWebRoute).
		AddEdge(NodeWebSearch, NodeSynthesize).
		AddEdge(NodeSynthesize, NodeEnd).
		SetStart(NodeRetrieve).
		SetEnd(NodeEnd).
		SetError(NodeError, recordFailure).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build crag graph: %w", err)
	}
	w.graph = g
	return w, nil
}

// Run executes the workflow for q. The returned state always carries a
// final response.
func (w *Workflow) Run(ctx context.Context, q legal.Query, cfg legal.ProcessingConfig, report Reporter) RunState {
	ctx, span := telemetry.Start(ctx, "crag.run", attribute.String("query.id", q.ID))
	var err error
	defer func() { telemetry.End(span, err) }()

	state := NewRunState(q, cfg)
	state.Reporter = report
	w.logger.Info("crag run started", "query_id", q.ID)

	state, err = w.graph.Execute(ctx, state)
	if err != nil {
		w.logger.Error("crag graph aborted", "query_id", q.ID, "error", err)
		state = recordFailure(state, "workflow", err)
	}
	if state.Final == nil {
		node := state.FailedNode
		if node == "" {
			node = "workflow"
		}
		state = Merge(state, w.fatal(ctx, state, node))
	}
	span.SetAttributes(attribute.String("crag.status", string(state.Final.Status)))
	w.logger.Info("crag run finished", "query_id", q.ID, "status", state.Final.Status, "warnings", len(state.Warnings))
	return state
}

func (w *Workflow) traced(name string, fn graph.NodeFunc[RunState, Update]) graph.NodeFunc[RunState, Update] {
	return func(ctx context.Context, s RunState) (u Update, err error) {
		ctx, span := telemetry.Start(ctx, "crag."+name, attribute.String("query.id", s.Query.ID))
		defer func() { telemetry.End(span, err) }()
		return fn(ctx, s)
	}
}

func (w *Workflow) policy(cfg legal.ProcessingConfig) errorskg.Policy {
	return retrieval.RetryPolicy(cfg, w.retryDelay)
}

func routeGrade(_ context.Context, s RunState) (string, error) {
	if s.Grade == GradeIrrelevant {
		return NodeTransform, nil
	}
	return NodeLexML, nil
}

func routeWeb(_ context.Context, s RunState) (string, error) {
	if s.WebDecision.NeedsWebSearch {
		return NodeWebSearch, nil
	}
	return NodeSynthesize, nil
}

func recordFailure(s RunState, node string, err error) RunState {
	var nodeErr *graph.NodeError
	if errors.As(err, &nodeErr) {
		node = nodeErr.Node
	}
	s.FailedNode = node
	s.Failure = err
	return s
}
