package crag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/observability"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"github.com/sweetpotato0/lexcrag/synthesis"
)

const (
	degradedConfidence = 0.3

	fatalSummary = "The legal question could not be answered because no reasoning service is available right now. " +
		"Please try again in a few minutes. If the matter is urgent, consult a qualified lawyer directly."
)

func (w *Workflow) retrieve(ctx context.Context, s RunState) (Update, error) {
	s.Reporter.Stage(NodeRetrieve, "searching the legal knowledge base")
	if w.deps.Vector == nil {
		return Update{Documents: []legal.DocumentSnippet{}, Warnings: []string{"vector search not configured"}}, nil
	}

	start := time.Now()
	docs, err := retrieval.Call(ctx, "vector search", w.policy(s.Config), s.Config.SearchTimeout(),
		func(ctx context.Context) ([]legal.DocumentSnippet, error) {
			return w.deps.Vector.Search(ctx, s.CurrentQuery, s.Config.MaxDocumentsPerSource)
		})
	result := searchResult(s.CurrentQuery, legal.SourceVectorDB, docs, time.Since(start), err)
	u := Update{Documents: result.Documents, SearchResults: []legal.SearchResult{result}}
	if err != nil {
		w.logger.Warn("vector search failed", "query_id", s.Query.ID, "error", err)
		u.Warnings = []string{fmt.Sprintf("vector search failed: %v", err)}
	}

	observability.Emit(ctx, w.deps.Sink, observability.RetrievalVectorDB, map[string]any{
		"query":      s.CurrentQuery,
		"documents":  len(result.Documents),
		"success":    result.Success,
		"latency_ms": result.Latency.Milliseconds(),
	})
	return u, nil
}

func (w *Workflow) grade(ctx context.Context, s RunState) (Update, error) {
	s.Reporter.Stage(NodeGrade, "grading document relevance")
	grade, reason, err := w.grader.Grade(ctx, s.CurrentQuery, s.Documents)
	if err != nil {
		w.logger.Warn("grading failed, assuming relevant", "query_id", s.Query.ID, "error", err)
	}
	w.logger.Debug("documents graded", "query_id", s.Query.ID, "grade", grade, "documents", len(s.Documents))
	return Update{Grade: grade, GradeReason: reason}, nil
}

func (w *Workflow) transform(ctx context.Context, s RunState) (Update, error) {
	s.Reporter.Stage(NodeTransform, "rewriting the query")
	rewritten, err := w.rewriter.Rewrite(ctx, s.CurrentQuery, s.Config.Temperature)
	if err != nil {
		w.logger.Warn("query rewrite failed", "query_id", s.Query.ID, "error", err)
		return Update{}, nil
	}
	if rewritten == "" {
		return Update{}, nil
	}
	return Update{CurrentQuery: rewritten, TransformedQuery: rewritten, Transformed: true}, nil
}

func (w *Workflow) lexml(ctx context.Context, s RunState) (Update, error) {
	switch {
	case !s.Config.EnableJurisprudenceSearch:
		return Update{Warnings: []string{"jurisprudence search disabled"}}, nil
	case w.deps.Jurisprudence == nil:
		return Update{Warnings: []string{"jurisprudence search not configured"}}, nil
	}
	s.Reporter.Stage(NodeLexML, "searching jurisprudence and legislation")

	start := time.Now()
	res, err := retrieval.Call(ctx, "jurisprudence search", w.policy(s.Config), s.Config.SearchTimeout(),
		func(ctx context.Context) (retrieval.JurisprudenceResult, error) {
			return w.deps.Jurisprudence.Search(ctx, s.CurrentQuery, s.Config.MaxDocumentsPerSource)
		})
	if err != nil {
		res = retrieval.JurisprudenceResult{}
	}
	result := searchResult(s.CurrentQuery, legal.SourceLexML, res.Documents, time.Since(start), err)
	result.TotalCount = max(res.TotalFound, len(result.Documents))
	res.Documents = result.Documents
	u := Update{Jurisprudence: &res, SearchResults: []legal.SearchResult{result}}
	if err != nil {
		w.logger.Warn("jurisprudence search failed", "query_id", s.Query.ID, "error", err)
		u.Warnings = []string{fmt.Sprintf("jurisprudence search failed: %v", err)}
	}

	observability.Emit(ctx, w.deps.Sink, observability.RetrievalLexML, map[string]any{
		"query":       s.CurrentQuery,
		"cql":         res.CQL,
		"documents":   len(res.Documents),
		"total_found": res.TotalFound,
		"success":     result.Success,
	})
	return u, nil
}

func (w *Workflow) evaluateWebNeed(ctx context.Context, s RunState) (Update, error) {
	var d WebDecision
	switch {
	case !s.Config.EnableWebSearch:
		d = WebDecision{Reasoning: "web search disabled"}
	case w.deps.Web == nil:
		d = WebDecision{Reasoning: "web search not configured"}
	default:
		s.Reporter.Stage(NodeEvaluateWebNeed, "evaluating whether a web search is needed")
		d = w.evaluator.Evaluate(ctx, s)
	}
	w.logger.Debug("web need evaluated", "query_id", s.Query.ID, "needs_web_search", d.NeedsWebSearch, "reasoning", d.Reasoning)
	return Update{WebDecision: &d}, nil
}

func (w *Workflow) webSearch(ctx context.Context, s RunState) (Update, error) {
	query := strings.TrimSpace(s.WebDecision.Query)
	if query == "" {
		query = s.CurrentQuery
	}
	s.Reporter.Stage(NodeWebSearch, "searching the web")

	start := time.Now()
	docs, err := retrieval.Call(ctx, "web search", w.policy(s.Config), s.Config.SearchTimeout(),
		func(ctx context.Context) ([]legal.DocumentSnippet, error) {
			return w.deps.Web.Search(ctx, query, s.Config.MaxDocumentsPerSource)
		})
	result := searchResult(query, legal.SourceWeb, docs, time.Since(start), err)
	u := Update{WebResults: result.Documents, SearchResults: []legal.SearchResult{result}}
	if err != nil {
		w.logger.Warn("web search failed", "query_id", s.Query.ID, "error", err)
		u.Warnings = []string{fmt.Sprintf("web search failed: %v", err)}
	}

	observability.Emit(ctx, w.deps.Sink, observability.RetrievalWeb, map[string]any{
		"query":     query,
		"documents": len(result.Documents),
		"success":   result.Success,
	})
	return u, nil
}

func (w *Workflow) synthesize(ctx context.Context, s RunState) (u Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("synthesis panicked", "query_id", s.Query.ID, "panic", r)
			u, err = w.degraded(s, fmt.Errorf("panic: %v", r)), nil
		}
	}()
	s.Reporter.Stage(NodeSynthesize, "synthesizing the answer")

	resp, err := w.deps.Synthesizer.Synthesize(ctx, s.Evidence(), s.Reporter)
	if errors.Is(err, errorskg.ErrNoReasoningProvider) {
		return Update{}, err
	}
	if err != nil || resp == nil {
		if err == nil {
			err = errors.New("synthesizer returned no response")
		}
		w.logger.Warn("synthesis failed, degrading", "query_id", s.Query.ID, "error", err)
		return w.degraded(s, err), nil
	}
	return Update{Final: resp}, nil
}

// degraded builds a templated low-confidence response from the evidence.
func (w *Workflow) degraded(s RunState, cause error) Update {
	var excerpts []string
	for _, d := range append(append(s.Documents[:len(s.Documents):len(s.Documents)], s.Jurisprudence.Documents...), s.WebResults...) {
		excerpts = append(excerpts, d.Preview(200))
	}
	answer := synthesis.TemplatedAnswer(s.Query.Text, strings.Join(excerpts, " "))
	for _, chunk := range synthesis.Chunks(synthesis.FallbackHeader, answer) {
		s.Reporter.Emit(chunk)
	}
	warnings := append(append([]string(nil), s.Warnings...), fmt.Sprintf("answer synthesis failed, templated answer used: %v", cause))
	resp, err := legal.NewFinalResponse(legal.ResponseInput{
		QueryID:      s.Query.ID,
		Summary:      answer,
		Confidence:   degradedConfidence,
		Completeness: degradedConfidence,
		Warnings:     warnings,
		Status:       legal.StatusCompleted,
	})
	if err != nil {
		// The templated answer always validates; keep the run terminal anyway.
		resp = FailedResponse(s.Query.ID, NodeSynthesize, s.Warnings...)
	}
	return Update{Final: resp, Warnings: warnings[len(s.Warnings):]}
}

func (w *Workflow) fail(ctx context.Context, s RunState) (Update, error) {
	node := s.FailedNode
	if node == "" {
		node = "unknown"
	}
	w.logger.Error("crag run failed", "query_id", s.Query.ID, "node", node, "error", s.Failure)
	return w.fatal(ctx, s, node), nil
}

// fatal emits the fatal checkpoint and builds the failed response, keeping
// the warnings gathered so far.
func (w *Workflow) fatal(ctx context.Context, s RunState, node string) Update {
	payload := map[string]any{"node": node}
	if s.Failure != nil {
		payload["error"] = s.Failure.Error()
	}
	observability.Emit(ctx, w.deps.Sink, observability.PipelineFatal, payload)
	return Update{Final: FailedResponse(s.Query.ID, node, s.Warnings...), Warnings: []string{"pipeline failure: " + node}}
}

// FailedResponse is the terminal response of a run that could not reach any
// reasoning provider. Earlier warnings come before the failure note.
func FailedResponse(queryID, node string, earlier ...string) *legal.FinalResponse {
	warnings := append(append([]string(nil), earlier...), "pipeline failure: "+node)
	resp, err := legal.NewFinalResponse(legal.ResponseInput{
		QueryID:  queryID,
		Summary:  fatalSummary,
		Warnings: warnings,
		Status:   legal.StatusFailed,
	})
	if err != nil {
		panic(fmt.Sprintf("fatal summary must validate: %v", err))
	}
	return resp
}

func searchResult(query string, source legal.SearchSource, docs []legal.DocumentSnippet, latency time.Duration, err error) legal.SearchResult {
	if err != nil || docs == nil {
		docs = []legal.DocumentSnippet{}
	}
	r := legal.SearchResult{
		Query:      query,
		Source:     source,
		Documents:  docs,
		TotalCount: len(docs),
		Latency:    latency,
		Success:    err == nil,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
