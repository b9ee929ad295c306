package legal

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxSnippetLength = 10000

// SnippetMetadata describes where a snippet came from.
type SnippetMetadata struct {
	SourceType   SearchSource     `json:"source_type"`
	Authority    string           `json:"authority,omitempty"`
	Jurisdiction JurisdictionType `json:"jurisdiction,omitempty"`
	Confidence   float64          `json:"confidence" validate:"gte=0,lte=1"`
	Tags         []string         `json:"tags,omitempty"`
	Title        string           `json:"title,omitempty"`
	URL          string           `json:"url,omitempty"`
	PublishedAt  string           `json:"published_at,omitempty"`
}

// DocumentSnippet is a piece of evidence returned by a retrieval adapter.
// Snippets are passed by value and never mutated downstream.
type DocumentSnippet struct {
	ID             string          `json:"id" validate:"required"`
	SourceID       string          `json:"source_id"`
	Text           string          `json:"text" validate:"min=1,max=10000"`
	Metadata       SnippetMetadata `json:"metadata"`
	RelevanceScore float64         `json:"relevance_score"`
	Relationship   string          `json:"relationship,omitempty"`
}

// NewSnippet truncates text to the allowed bound and validates the result.
func NewSnippet(sourceID, text string, meta SnippetMetadata, score float64) (DocumentSnippet, error) {
	s := DocumentSnippet{
		ID:             uuid.NewString(),
		SourceID:       sourceID,
		Text:           TruncateRunes(text, MaxSnippetLength),
		Metadata:       meta,
		RelevanceScore: score,
	}
	if s.Metadata.Confidence < 0 {
		s.Metadata.Confidence = 0
	}
	if s.Metadata.Confidence > 1 {
		s.Metadata.Confidence = 1
	}
	if err := validateStruct("snippet", s); err != nil {
		return DocumentSnippet{}, err
	}
	return s, nil
}

// Preview returns at most n runes of the snippet text.
func (s DocumentSnippet) Preview(n int) string {
	return TruncateRunes(s.Text, n)
}

// SearchResult records one search invocation against one source.
type SearchResult struct {
	Query      string            `json:"query"`
	Source     SearchSource      `json:"source"`
	Documents  []DocumentSnippet `json:"documents"`
	TotalCount int               `json:"total_count"`
	Latency    time.Duration     `json:"latency"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
}

// TruncateRunes cuts s to at most n runes without splitting a character.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
