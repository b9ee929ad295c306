package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidSummary indicates a response summary violates its construction invariants
	ErrInvalidSummary = errors.New("invalid response summary")

	// ErrNoReasoningProvider indicates every configured reasoning provider failed
	ErrNoReasoningProvider = errors.New("no reasoning provider available")

	// ErrProviderNotConfigured indicates a provider is missing credentials or settings
	ErrProviderNotConfigured = errors.New("provider not configured")

	// ErrToolTimeout indicates the tool executor exceeded its hard timeout
	ErrToolTimeout = errors.New("tool executor timed out")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
