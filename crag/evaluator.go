package crag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/legal"
)

var (
	webNeedLabel   = regexp.MustCompile(`(?im)^\W*NEEDS_WEB_SEARCH\W*:\s*\**\s*(\w+)`)
	webReasonLabel = regexp.MustCompile(`(?im)^\W*REASONING\W*:\s*(.+)$`)
	webQueryLabel  = regexp.MustCompile(`(?im)^\W*(?:WEB_SEARCH_)?QUERY\W*:\s*(.+)$`)
)

// ParseWebDecision reads a JSON object and falls back to labelled lines.
func ParseWebDecision(text string) (WebDecision, error) {
	if raw := jsonObject(text); raw != "" {
		var d WebDecision
		if err := json.Unmarshal([]byte(raw), &d); err == nil {
			d.Reasoning = strings.TrimSpace(d.Reasoning)
			d.Query = strings.TrimSpace(d.Query)
			return d, nil
		}
	}
	m := webNeedLabel.FindStringSubmatch(text)
	if m == nil {
		return WebDecision{}, fmt.Errorf("no web search decision in reply")
	}
	var d WebDecision
	switch strings.ToUpper(m[1]) {
	case "YES", "TRUE", "SIM":
		d.NeedsWebSearch = true
	}
	if r := webReasonLabel.FindStringSubmatch(text); r != nil {
		d.Reasoning = strings.TrimSpace(r[1])
	}
	if q := webQueryLabel.FindStringSubmatch(text); q != nil {
		d.Query = strings.Trim(strings.TrimSpace(q[1]), `"`)
	}
	return d, nil
}

// jsonObject strips code fences and returns the outermost {...} span.
func jsonObject(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed[3:], "json"), "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	start, end := strings.IndexByte(trimmed, '{'), strings.LastIndexByte(trimmed, '}')
	if start < 0 || end <= start {
		return ""
	}
	return trimmed[start : end+1]
}

// Evaluator decides whether the gathered evidence needs a web search.
type Evaluator struct {
	llm agent.LLMClient
}

func NewEvaluator(llm agent.LLMClient) *Evaluator { return &Evaluator{llm: llm} }

// Evaluate never fails: errors become a negative decision.
func (e *Evaluator) Evaluate(ctx context.Context, s RunState) WebDecision {
	text, err := agent.Text(ctx, e.llm, evaluatorSystemPrompt, evaluationPrompt(s), &agent.Settings{Temperature: agent.Temperature(0)})
	if err == nil {
		var d WebDecision
		if d, err = ParseWebDecision(text); err == nil {
			return d
		}
	}
	return WebDecision{Reasoning: fmt.Sprintf("evaluation failed: %v", err)}
}

func evaluationPrompt(s RunState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CRAG grade: %s, documents: %d\n", s.Grade, len(s.Documents))
	for i, d := range s.Documents[:min(3, len(s.Documents))] {
		fmt.Fprintf(&b, "- document %d: %s\n", i+1, d.Preview(200))
	}
	if docs := s.Jurisprudence.Documents; len(docs) > 0 {
		fmt.Fprintf(&b, "Jurisprudence found: %d\n", s.Jurisprudence.TotalFound)
		for _, d := range docs {
			fmt.Fprintf(&b, "- %s: %s\n", legal.TruncateRunes(d.Metadata.Title, 200), d.Preview(200))
		}
	} else {
		b.WriteString("Jurisprudence found: none\n")
	}
	return fmt.Sprintf(evaluateTemplate, s.CurrentQuery, b.String())
}

const evaluatorSystemPrompt = "You coordinate legal research and decide whether a web search is needed. Reply with JSON only."

const evaluateTemplate = `Question: %s

Evidence gathered so far:
%s
Search the web only when the evidence is insufficient, outdated or missing recent developments.

Reply with a JSON object:
{"needs_web_search": true|false, "reasoning": "<short reason>", "web_search_query": "<optimised query or empty>"}`
