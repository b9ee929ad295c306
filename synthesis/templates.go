package synthesis

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/lexcrag/legal"
)

// GeneralKnowledge replaces an analysis too short to be useful as context.
const GeneralKnowledge = "general legal knowledge"

const minAnalysisChars = 50

// ContextFor returns the analysis or the general knowledge marker.
func ContextFor(analysis string) string {
	if len([]rune(strings.TrimSpace(analysis))) < minAnalysisChars {
		return GeneralKnowledge
	}
	return strings.TrimSpace(analysis)
}

// TemplatedAnswer is the deterministic answer used when no model output is
// usable. It always satisfies the response summary invariants.
func TemplatedAnswer(query, analysis string) string {
	excerpt := legal.TruncateRunes(strings.TrimSpace(analysis), 300)
	if excerpt == "" {
		excerpt = "Based on general legal knowledge of the subject, it is important to note that"
	}
	paragraphs := []string{
		fmt.Sprintf("Regarding the question %q, this answer outlines the fundamental aspects of the subject. "+
			"Brazilian law offers several mechanisms and legal institutes to deal with matters like this one, "+
			"and both the theory and the practice deserve attention.", strings.TrimSpace(query)),
		"The Federal Constitution, the specific codes and complementary statutes form the normative framework for the issue. " +
			"The hierarchy of norms and the settled case law of the higher courts must be taken into account.",
		"In practice, applying these concepts requires attention to established procedures, statutory deadlines and formal requirements. " +
			"Every concrete case may present particularities that change how the general rules apply.",
		excerpt + " the matter demands a careful look at the specific circumstances.",
		"For a concrete situation, check the current legislation, review recent decisions and seek specialised professional guidance. " +
			"This text is informative only and does not constitute legal advice.",
	}
	return strings.Join(paragraphs, "\n\n")
}
