package legal

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	errorskg "github.com/sweetpotato0/lexcrag/errors"
)

const (
	MinSummaryLength    = 100
	MaxSummaryLength    = 15000
	MinSummarySentences = 2
	MinUniqueWordRatio  = 0.25
)

// DefaultDisclaimer accompanies every generated answer.
const DefaultDisclaimer = "This answer was generated by an AI system and may contain errors. " +
	"Before drawing any conclusion or making a decision, consult a qualified, licensed lawyer."

// FinalResponse is the typed answer delivered for a query. Build it with
// NewFinalResponse; it is not modified afterwards.
type FinalResponse struct {
	QueryID        string    `json:"query_id"`
	OverallSummary string    `json:"overall_summary"`
	Confidence     float64   `json:"overall_confidence"`
	Completeness   float64   `json:"completeness_score"`
	Warnings       []string  `json:"warnings"`
	Disclaimer     string    `json:"disclaimer"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// ResponseInput carries the values used to build a FinalResponse.
type ResponseInput struct {
	QueryID      string
	Summary      string
	Confidence   float64
	Completeness float64
	Warnings     []string
	Disclaimer   string
	Status       Status
}

// NewFinalResponse enforces the summary invariants and returns the response.
func NewFinalResponse(in ResponseInput) (*FinalResponse, error) {
	summary := strings.TrimSpace(in.Summary)
	if err := ValidateSummary(summary); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = StatusCompleted
	}
	disclaimer := in.Disclaimer
	if strings.TrimSpace(disclaimer) == "" {
		disclaimer = DefaultDisclaimer
	}
	warnings := make([]string, 0, len(in.Warnings))
	for _, w := range in.Warnings {
		if w = strings.TrimSpace(w); w != "" {
			warnings = append(warnings, w)
		}
	}
	return &FinalResponse{
		QueryID:        in.QueryID,
		OverallSummary: summary,
		Confidence:     clamp01(in.Confidence),
		Completeness:   clamp01(in.Completeness),
		Warnings:       warnings,
		Disclaimer:     disclaimer,
		Status:         status,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// ValidateSummary checks length, sentence count and repetitiveness.
func ValidateSummary(summary string) error {
	n := utf8.RuneCountInString(summary)
	if n < MinSummaryLength {
		return fmt.Errorf("%w: %d characters, need at least %d", errorskg.ErrInvalidSummary, n, MinSummaryLength)
	}
	if n > MaxSummaryLength {
		return fmt.Errorf("%w: %d characters, limit is %d", errorskg.ErrInvalidSummary, n, MaxSummaryLength)
	}
	if got := CountSentences(summary); got < MinSummarySentences {
		return fmt.Errorf("%w: %d sentence(s), need at least %d", errorskg.ErrInvalidSummary, got, MinSummarySentences)
	}
	words := strings.Fields(strings.ToLower(summary))
	if len(words) >= 10 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		if ratio := float64(len(unique)) / float64(len(words)); ratio < MinUniqueWordRatio {
			return fmt.Errorf("%w: too repetitive (unique ratio %.2f)", errorskg.ErrInvalidSummary, ratio)
		}
	}
	return nil
}

// CountSentences counts non-empty segments separated by sentence punctuation.
func CountSentences(text string) int {
	segments := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	count := 0
	for _, s := range segments {
		if strings.TrimSpace(s) != "" {
			count++
		}
	}
	return count
}

// TruncateSummary cuts text to the maximum length at the last sentence end.
func TruncateSummary(text string) string {
	if utf8.RuneCountInString(text) <= MaxSummaryLength {
		return text
	}
	cut := TruncateRunes(text, MaxSummaryLength)
	if i := strings.LastIndexAny(cut, ".!?"); i > len(cut)/2 {
		return cut[:i+1]
	}
	return cut
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
