package legal

import "time"

// ProcessingConfig tunes a single run of the pipeline.
type ProcessingConfig struct {
	MaxDocumentsPerSource     int     `json:"max_documents_per_source" yaml:"max_documents_per_source" validate:"gte=1,lte=50"`
	SearchTimeoutSeconds      int     `json:"search_timeout_seconds" yaml:"search_timeout_seconds" validate:"gte=5,lte=300"`
	MaxRetries                int     `json:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
	RetryBackoffFactor        float64 `json:"retry_backoff_factor" yaml:"retry_backoff_factor" validate:"gte=1,lte=5"`
	MinConfidenceThreshold    float64 `json:"min_confidence_threshold" yaml:"min_confidence_threshold" validate:"gte=0,lte=1"`
	HumanReviewThreshold      float64 `json:"human_review_threshold" yaml:"human_review_threshold" validate:"gte=0,lte=1"`
	EnableWebSearch           bool    `json:"enable_web_search" yaml:"enable_web_search"`
	EnableJurisprudenceSearch bool    `json:"enable_jurisprudence_search" yaml:"enable_jurisprudence_search"`
	EnableGuardrails          bool    `json:"enable_guardrails" yaml:"enable_guardrails"`
	Temperature               float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens                 int     `json:"max_tokens" yaml:"max_tokens" validate:"gte=100,lte=32000"`
}

// DefaultProcessingConfig returns the stock run configuration.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		MaxDocumentsPerSource:     10,
		SearchTimeoutSeconds:      30,
		MaxRetries:                3,
		RetryBackoffFactor:        1.5,
		MinConfidenceThreshold:    0.3,
		HumanReviewThreshold:      0.7,
		EnableWebSearch:           true,
		EnableJurisprudenceSearch: true,
		EnableGuardrails:          true,
		Temperature:               0.1,
		MaxTokens:                 4000,
	}
}

// Validate checks every field against its allowed range.
func (c ProcessingConfig) Validate() error {
	return validateStruct("processing config", c)
}

// SearchTimeout returns the per-call search deadline.
func (c ProcessingConfig) SearchTimeout() time.Duration {
	if c.SearchTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SearchTimeoutSeconds) * time.Second
}
