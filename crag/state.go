package crag

import (
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/retrieval"
)

// Grade is the relevance verdict on the retrieved documents.
type Grade string

const (
	GradeRelevant       Grade = "relevant"
	GradeIrrelevant     Grade = "irrelevant"
	GradeNeedsWebSearch Grade = "needs_web_search"
)

// WebDecision is the evaluator's verdict on whether the web should be searched.
type WebDecision struct {
	NeedsWebSearch bool   `json:"needs_web_search"`
	Reasoning      string `json:"reasoning"`
	Query          string `json:"web_search_query,omitempty"`
}

// Reporter receives progress messages and answer chunks of one run. Nil
// callbacks are ignored.
type Reporter struct {
	Progress func(stage, message string)
	Chunk    func(text string)
}

// Stage forwards a progress message.
func (r Reporter) Stage(stage, msg string) {
	if r.Progress != nil {
		r.Progress(stage, msg)
	}
}

// Emit forwards an answer chunk.
func (r Reporter) Emit(text string) {
	if r.Chunk != nil {
		r.Chunk(text)
	}
}

// RunState is the state of one workflow run. Only Merge writes it.
type RunState struct {
	Query            legal.Query
	Config           legal.ProcessingConfig
	CurrentQuery     string
	TransformedQuery string

	Documents      []legal.DocumentSnippet
	Grade          Grade
	GradeReason    string
	Jurisprudence  retrieval.JurisprudenceResult
	WebDecision    WebDecision
	WebResults     []legal.DocumentSnippet
	SearchResults  []legal.SearchResult
	Warnings       []string
	Final          *legal.FinalResponse
	FailedNode     string
	Failure        error
	Reporter       Reporter
	TransformCount int
}

// Update is a partial change produced by a node. Zero fields leave the state
// unchanged; Warnings and SearchResults are appended.
type Update struct {
	CurrentQuery     string
	TransformedQuery string
	Documents        []legal.DocumentSnippet
	Grade            Grade
	GradeReason      string
	Jurisprudence    *retrieval.JurisprudenceResult
	WebDecision      *WebDecision
	WebResults       []legal.DocumentSnippet
	SearchResults    []legal.SearchResult
	Warnings         []string
	Final            *legal.FinalResponse
	Transformed      bool
}

// NewRunState starts a run for q.
func NewRunState(q legal.Query, cfg legal.ProcessingConfig) RunState {
	return RunState{Query: q, Config: cfg, CurrentQuery: q.Text}
}

// Merge folds u into s. Slices in s are never shared with u.
func Merge(s RunState, u Update) RunState {
	if u.CurrentQuery != "" {
		s.CurrentQuery = u.CurrentQuery
	}
	if u.TransformedQuery != "" {
		s.TransformedQuery = u.TransformedQuery
	}
	if u.Documents != nil {
		s.Documents = append([]legal.DocumentSnippet(nil), u.Documents...)
	}
	if u.Grade != "" {
		s.Grade = u.Grade
	}
	if u.GradeReason != "" {
		s.GradeReason = u.GradeReason
	}
	if u.Jurisprudence != nil {
		s.Jurisprudence = *u.Jurisprudence
		s.Jurisprudence.Documents = append([]legal.DocumentSnippet(nil), u.Jurisprudence.Documents...)
	}
	if u.WebDecision != nil {
		s.WebDecision = *u.WebDecision
	}
	if u.WebResults != nil {
		s.WebResults = append([]legal.DocumentSnippet(nil), u.WebResults...)
	}
	if len(u.SearchResults) > 0 {
		s.SearchResults = append(append([]legal.SearchResult(nil), s.SearchResults...), u.SearchResults...)
	}
	if len(u.Warnings) > 0 {
		s.Warnings = append(append([]string(nil), s.Warnings...), u.Warnings...)
	}
	if u.Final != nil {
		s.Final = u.Final
	}
	if u.Transformed {
		s.TransformCount++
	}
	return s
}

// Evidence is what the synthesizer receives from a run.
type Evidence struct {
	Query         legal.Query
	CurrentQuery  string
	Config        legal.ProcessingConfig
	Documents     []legal.DocumentSnippet
	Jurisprudence []legal.DocumentSnippet
	Web           []legal.DocumentSnippet
	Grade         Grade
	WebDecision   WebDecision
	Warnings      []string
}

// Evidence returns a copy of the evidence gathered so far.
func (s RunState) Evidence() Evidence {
	return Evidence{
		Query:         s.Query,
		CurrentQuery:  s.CurrentQuery,
		Config:        s.Config,
		Documents:     append([]legal.DocumentSnippet(nil), s.Documents...),
		Jurisprudence: append([]legal.DocumentSnippet(nil), s.Jurisprudence.Documents...),
		Web:           append([]legal.DocumentSnippet(nil), s.WebResults...),
		Grade:         s.Grade,
		WebDecision:   s.WebDecision,
		Warnings:      append([]string(nil), s.Warnings...),
	}
}
