package crag

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/legal"
)

// Rewriter reformulates a query for better retrieval.
type Rewriter struct {
	llm agent.LLMClient
}

func NewRewriter(llm agent.LLMClient) *Rewriter { return &Rewriter{llm: llm} }

// Rewrite returns the new query, or "" when the model gave nothing usable.
func (r *Rewriter) Rewrite(ctx context.Context, query string, temperature float64) (string, error) {
	text, err := agent.Text(ctx, r.llm, rewriterSystemPrompt, fmt.Sprintf(rewriteTemplate, query), &agent.Settings{Temperature: agent.Temperature(temperature)})
	if err != nil {
		return "", err
	}
	return cleanRewrite(text), nil
}

func cleanRewrite(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, "Rewritten query:"))
	text = strings.Trim(text, "\"'` ")
	return legal.TruncateRunes(text, legal.MaxQueryLength)
}

const rewriterSystemPrompt = "You rewrite legal questions to improve document retrieval. Reply with the rewritten question only."

const rewriteTemplate = `The documents retrieved for this question were not relevant.

Original question: %s

Rewrite it with precise legal terminology, the applicable statutes or institutes and the key concepts, keeping its meaning. Reply with a single line.`
