package synthesis

import "fmt"

const systemPrompt = "You are a senior Brazilian legal analyst writing one part of a structured answer. " +
	"Write flowing prose without headings or sub-sections. Cite statutes and precedents when the context supports them. " +
	"Never invent case numbers."

func sectionPrompt(sec Section, query, evidence string) string {
	return fmt.Sprintf(`Write the %s of an answer to the question below.

QUESTION: %s

CONTEXT:
%s

INSTRUCTIONS:
- Write %d-%d words.
- %s
- Write only this part, without a title.`, sec.Header[3:], query, evidence, sec.MinWords, sec.MaxWords, sec.Focus)
}

func expansionPrompt(sec Section, query, short string) string {
	return fmt.Sprintf(`The %s below is too short. Rewrite it with more detail, keeping all of its content, in %d-%d words.

QUESTION: %s

CURRENT TEXT:
%s

Return only the rewritten text, without a title.`, sec.Header[3:], sec.MinWords, sec.MaxWords, query, short)
}

func fallbackPrompt(query, evidence string) string {
	return fmt.Sprintf(`QUESTION: %s

CONTEXT: %s

Write a complete legal answer of about 400 words. Explain the concept, the applicable legal basis, practical examples, important caveats and next steps. Use flowing prose without marked sub-sections.`, query, evidence)
}
