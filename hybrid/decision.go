package hybrid

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/sweetpotato0/lexcrag/agent"
)

// Source names used in a search priority.
const (
	SourceVectorDB      = "vectordb"
	SourceLexML         = "lexml"
	SourceWeb           = "web"
	SourceJurisprudence = "jurisprudence"
)

// SearchDecision says which sources a standalone run should consult.
type SearchDecision struct {
	VectorDB      bool     `json:"vectordb"`
	LexML         bool     `json:"lexml"`
	Web           bool     `json:"web"`
	Jurisprudence bool     `json:"jurisprudence"`
	Justification string   `json:"justification,omitempty"`
	Confidence    float64  `json:"confidence"`
	Priority      []string `json:"priority"`
}

// DefaultSearchDecision consults every source.
func DefaultSearchDecision() SearchDecision {
	return SearchDecision{
		VectorDB:      true,
		LexML:         true,
		Web:           true,
		Jurisprudence: true,
		Confidence:    0.8,
		Priority:      []string{SourceVectorDB, SourceLexML, SourceWeb},
	}
}

var decisionLabel = regexp.MustCompile(`^\W*([A-Za-z_]+)\W*:\s*(.*?)\s*$`)

// ParseSearchDecision reads the labelled decision. Missing switches default
// to true.
func ParseSearchDecision(text string) SearchDecision {
	d := DefaultSearchDecision()
	var justification []string
	current := ""
	for _, line := range strings.Split(text, "\n") {
		m := decisionLabel.FindStringSubmatch(line)
		if m == nil {
			if current == "JUSTIFICATION" && strings.TrimSpace(line) != "" {
				justification = append(justification, strings.TrimSpace(line))
			}
			continue
		}
		prev := current
		current = strings.ToUpper(m[1])
		value := m[2]
		switch current {
		case "VECTORDB":
			d.VectorDB = flag(value, d.VectorDB)
		case "LEXML":
			d.LexML = flag(value, d.LexML)
		case "WEB":
			d.Web = flag(value, d.Web)
		case "JURISPRUDENCE", "JURISPRUDENCIA":
			current = "JURISPRUDENCE"
			d.Jurisprudence = flag(value, d.Jurisprudence)
		case "JUSTIFICATION", "JUSTIFICATIVA":
			current = "JUSTIFICATION"
			if value != "" {
				justification = append(justification, value)
			}
		case "CONFIDENCE", "CONFIANCA":
			if f, err := strconv.ParseFloat(strings.Trim(firstField(value), "*"), 64); err == nil {
				d.Confidence = min(max(f, 0), 1)
			}
		case "PRIORITY", "PRIORIDADE":
			if p := parsePriority(value); len(p) > 0 {
				d.Priority = p
			}
		default:
			// Unknown labels inside a justification are part of its text.
			if prev == "JUSTIFICATION" {
				current = prev
				justification = append(justification, strings.TrimSpace(line))
			}
		}
	}
	d.Justification = strings.Join(justification, " ")
	return d
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

func flag(value string, def bool) bool {
	switch strings.ToUpper(strings.Trim(firstField(value), "*.,")) {
	case "YES", "SIM", "TRUE":
		return true
	case "NO", "NAO", "NÃO", "FALSE":
		return false
	}
	return def
}

func parsePriority(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(part), "*.[]\"'"))
		switch name {
		case SourceVectorDB, SourceLexML, SourceWeb, SourceJurisprudence:
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

// Decider asks the reasoner which sources to consult.
type Decider struct {
	llm agent.LLMClient
}

func NewDecider(llm agent.LLMClient) *Decider { return &Decider{llm: llm} }

// Decide returns the default decision together with the error when the
// model cannot be reached.
func (d *Decider) Decide(ctx context.Context, query string) (SearchDecision, error) {
	text, err := agent.Text(ctx, d.llm, decisionSystemPrompt, fmt.Sprintf(decisionTemplate, query), &agent.Settings{Temperature: agent.Temperature(0)})
	if err != nil {
		return DefaultSearchDecision(), err
	}
	return ParseSearchDecision(text), nil
}

const decisionSystemPrompt = "You plan legal research. Decide which sources to search and reply in the requested format."

const decisionTemplate = `Question: %s

Available sources:
- VECTORDB: curated legal knowledge base
- LEXML: official Brazilian legislation
- WEB: recent news, articles and commentary
- JURISPRUDENCE: court decisions

Reply exactly as:
VECTORDB: YES|NO
LEXML: YES|NO
WEB: YES|NO
JURISPRUDENCE: YES|NO
JUSTIFICATION: <short reason>
CONFIDENCE: <0.0-1.0>
PRIORITY: <comma separated sources, most important first>`
