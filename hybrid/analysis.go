package hybrid

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/legal"
)

// Evidence limits for the analysis digest.
const (
	DigestDocuments     = 5
	DigestWeb           = 2
	DigestJurisprudence = 2
	DigestExcerpt       = 500
)

// Digest renders the strongest evidence of each source as prompt text.
func Digest(docs, web, jurisprudence []legal.DocumentSnippet) string {
	var b strings.Builder
	section := func(title string, items []legal.DocumentSnippet, limit int) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s:\n", title)
		for i, d := range items[:min(limit, len(items))] {
			label := d.Metadata.Title
			if label == "" {
				label = d.Metadata.Authority
			}
			fmt.Fprintf(&b, "[%d] %s\n%s\n", i+1, label, d.Preview(DigestExcerpt))
		}
		b.WriteString("\n")
	}
	section("KNOWLEDGE BASE", docs, DigestDocuments)
	section("WEB", web, DigestWeb)
	section("JURISPRUDENCE AND LEGISLATION", jurisprudence, DigestJurisprudence)
	return strings.TrimSpace(b.String())
}

func analyze(ctx context.Context, llm agent.LLMClient, query, digest string, tools ToolSearchSummary, cfg legal.ProcessingConfig) (string, error) {
	if digest == "" {
		digest = "no documents were retrieved"
	}
	prompt := fmt.Sprintf(analysisTemplate, query, digest, tools.TotalSources, tools.Summary)
	text, err := agent.Text(ctx, llm, analysisSystemPrompt, prompt, &agent.Settings{
		Temperature: agent.Temperature(cfg.Temperature),
		MaxTokens:   int64(cfg.MaxTokens),
	})
	return strings.TrimSpace(text), err
}

const analysisSystemPrompt = "You are a Brazilian legal analyst. Correlate the evidence with the question precisely and cite sources when possible."

const analysisTemplate = `Analyse this legal question using the evidence gathered.

QUESTION: %s

EVIDENCE:
%s

COMPLEMENTARY SEARCHES (%d sources):
%s

Give a structured analysis covering:
1. Applicable legislation
2. Relevant doctrine
3. Current case law
4. Legal principles involved`
