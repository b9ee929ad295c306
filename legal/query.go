package legal

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
)

const (
	MinQueryLength = 10
	MaxQueryLength = 5000
)

// Query is a single user question. It is immutable after creation; use the
// With* methods to derive updated copies.
type Query struct {
	ID              string           `json:"id" validate:"required"`
	Text            string           `json:"text" validate:"required,min=10,max=5000"`
	Priority        Priority         `json:"priority" validate:"oneof=low medium high urgent"`
	ValidationLevel ValidationLevel  `json:"validation_level" validate:"oneof=strict moderate lenient"`
	Jurisdiction    JurisdictionType `json:"jurisdiction,omitempty"`
	LegalArea       LegalArea        `json:"legal_area,omitempty"`
	UserID          string           `json:"user_id,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
	Status          Status           `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// QueryOption customises a query at construction time.
type QueryOption func(*Query)

// WithPriority sets the query priority.
func WithPriority(p Priority) QueryOption {
	return func(q *Query) {
		if p != "" {
			q.Priority = p
		}
	}
}

// WithValidationLevel sets the review strictness.
func WithValidationLevel(level ValidationLevel) QueryOption {
	return func(q *Query) {
		if level != "" {
			q.ValidationLevel = level
		}
	}
}

// WithUser records who asked.
func WithUser(userID, sessionID string) QueryOption {
	return func(q *Query) {
		q.UserID = userID
		q.SessionID = sessionID
	}
}

// WithClassification sets the inferred jurisdiction and legal area.
func WithClassification(j JurisdictionType, area LegalArea) QueryOption {
	return func(q *Query) {
		q.Jurisdiction = j
		q.LegalArea = area
	}
}

// NewQuery validates text and returns a pending query.
func NewQuery(text string, opts ...QueryOption) (*Query, error) {
	text = strings.TrimSpace(text)
	now := time.Now().UTC()
	q := &Query{
		ID:              uuid.NewString(),
		Text:            text,
		Priority:        PriorityMedium,
		ValidationLevel: ValidationModerate,
		Jurisdiction:    JurisdictionUnknown,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	if err := validateStruct("query", q); err != nil {
		return nil, err
	}
	if !hasSubstance(text) {
		return nil, fmt.Errorf("query: %w: text must contain meaningful content", errorskg.ErrInvalidInput)
	}
	return q, nil
}

func hasSubstance(text string) bool {
	stripped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(".,?!;:", r) {
			return -1
		}
		return r
	}, text)
	return utf8.RuneCountInString(strings.TrimSpace(stripped)) >= 5
}

var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusReviewing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusReviewing:  {StatusCompleted, StatusFailed, StatusCancelled},
}

// WithStatus returns a copy of q moved to next.
func (q Query) WithStatus(next Status) (Query, error) {
	for _, s := range allowedTransitions[q.Status] {
		if s == next {
			q.Status = next
			q.UpdatedAt = time.Now().UTC()
			return q, nil
		}
	}
	return q, fmt.Errorf("query %s: %w: cannot move from %s to %s", q.ID, errorskg.ErrInvalidInput, q.Status, next)
}
