package crag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/legal"
)

var (
	gradeLabel         = regexp.MustCompile(`(?i)RELEVANCE\s*:\s*\**\s*(needs_web_search|irrelevant|relevant)`)
	gradeJustification = regexp.MustCompile(`(?is)JUSTIFICATION\s*:\s*(.*)`)
)

// ParseGrade reads the grader's reply. Unparsable output counts as relevant.
func ParseGrade(text string) (Grade, string) {
	reason := ""
	if m := gradeJustification.FindStringSubmatch(text); m != nil {
		reason = strings.TrimSpace(m[1])
	}
	if m := gradeLabel.FindStringSubmatch(text); m != nil {
		return Grade(strings.ToLower(m[1])), reason
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, string(GradeIrrelevant)):
		return GradeIrrelevant, reason
	case strings.Contains(lower, string(GradeNeedsWebSearch)):
		return GradeNeedsWebSearch, reason
	}
	return GradeRelevant, reason
}

// Grader judges whether retrieved documents answer the query.
type Grader struct {
	llm agent.LLMClient
}

func NewGrader(llm agent.LLMClient) *Grader { return &Grader{llm: llm} }

// Grade returns irrelevant for no documents without calling the model. A
// model error is returned together with GradeRelevant.
func (g *Grader) Grade(ctx context.Context, query string, docs []legal.DocumentSnippet) (Grade, string, error) {
	if len(docs) == 0 {
		return GradeIrrelevant, "no documents retrieved", nil
	}
	text, err := agent.Text(ctx, g.llm, graderSystemPrompt, gradePrompt(query, docs), &agent.Settings{Temperature: agent.Temperature(0)})
	if err != nil {
		return GradeRelevant, "", err
	}
	grade, reason := ParseGrade(text)
	return grade, reason, nil
}

func gradePrompt(query string, docs []legal.DocumentSnippet) string {
	var b strings.Builder
	for i, d := range docs {
		authority := d.Metadata.Authority
		if authority == "" {
			authority = string(d.Metadata.SourceType)
		}
		fmt.Fprintf(&b, "Document %d (source: %s)\n%s\n\n", i+1, authority, d.Preview(500))
	}
	return fmt.Sprintf(gradeTemplate, query, b.String())
}

const graderSystemPrompt = "You grade whether retrieved legal documents are relevant to a question. Reply in the requested format."

const gradeTemplate = `Question: %s

Retrieved documents:
%s
Decide whether the documents help answer the question.
- relevant: at least one document addresses the question
- irrelevant: none of the documents addresses the question
- needs_web_search: the documents are related but may be outdated or incomplete

Reply exactly as:
RELEVANCE: relevant|irrelevant|needs_web_search
JUSTIFICATION: <one or two sentences>`
