package hybrid

import (
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/review"
	"github.com/sweetpotato0/lexcrag/synthesis"
)

// TemplatedWarning is added when the synthesized answer was replaced.
const TemplatedWarning = "answer failed validation, templated answer used"

// AssembleInput carries everything the final response is built from.
type AssembleInput struct {
	QueryID   string
	Query     string
	Analysis  string
	Summary   string
	Warnings  []string
	Quality   review.Quality
	Guardrail review.Guardrail
}

// Assemble builds the completed response. A summary that breaks the response
// invariants is replaced by the templated answer.
func Assemble(in AssembleInput) (*legal.FinalResponse, error) {
	warnings := append([]string(nil), in.Warnings...)
	if in.Quality.NeedsImprovement {
		warnings = append(warnings, in.Quality.Suggestions...)
	}
	if in.Quality.NeedsHumanReview {
		reason := in.Quality.ReviewReason
		if reason == "" {
			reason = "quality below threshold"
		}
		warnings = append(warnings, "human review recommended: "+reason)
	}
	if !in.Guardrail.Passed {
		for _, v := range in.Guardrail.Violations {
			warnings = append(warnings, "Attention: "+v)
		}
	}
	if in.Guardrail.Failure != "" {
		warnings = append(warnings, in.Guardrail.Failure)
	}

	summary := legal.TruncateSummary(in.Summary)
	if err := legal.ValidateSummary(summary); err != nil {
		summary = synthesis.TemplatedAnswer(in.Query, in.Analysis)
		warnings = append(warnings, TemplatedWarning)
	}
	return legal.NewFinalResponse(legal.ResponseInput{
		QueryID:      in.QueryID,
		Summary:      summary,
		Confidence:   in.Quality.OverallScore,
		Completeness: in.Quality.Completeness,
		Warnings:     warnings,
		Disclaimer:   legal.DefaultDisclaimer,
		Status:       legal.StatusCompleted,
	})
}
