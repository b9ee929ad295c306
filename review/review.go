// Package review scores a generated answer and checks it against ethical
// guardrails. Both checks are advisory: failures produce default results.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultScore = 0.8

	// ValidationFailedSuggestion replaces suggestions when scoring fails.
	ValidationFailedSuggestion = "validation failed, manual review recommended"

	qualityExcerpt   = 1500
	guardrailExcerpt = 1000
)

// Quality is the scored assessment of an answer.
type Quality struct {
	OverallScore     float64  `json:"overall_score"`
	Completeness     float64  `json:"completeness"`
	Accuracy         float64  `json:"accuracy"`
	Clarity          float64  `json:"clarity"`
	NeedsImprovement bool     `json:"needs_improvement"`
	NeedsHumanReview bool     `json:"needs_human_review"`
	ReviewReason     string   `json:"review_reason,omitempty"`
	Suggestions      []string `json:"suggestions,omitempty"`
	Failed           bool     `json:"failed,omitempty"`
}

// ParseQuality reads the labelled assessment. Missing scores default to 0.8.
func ParseQuality(text string) Quality {
	values, bullets := labels(text)
	return Quality{
		OverallScore:     score(values, "OVERALL_SCORE", defaultScore),
		Completeness:     score(values, "COMPLETENESS", defaultScore),
		Accuracy:         score(values, "ACCURACY", defaultScore),
		Clarity:          score(values, "CLARITY", defaultScore),
		NeedsImprovement: yes(values, "NEEDS_IMPROVEMENT", false),
		NeedsHumanReview: yes(values, "NEEDS_HUMAN_REVIEW", false),
		ReviewReason:     values["REVIEW_REASON"],
		Suggestions:      bullets,
	}
}

// FailedQuality is the assessment used when the validator call fails.
func FailedQuality() Quality {
	return Quality{
		OverallScore: 0.75,
		Completeness: 0.8,
		Accuracy:     0.8,
		Clarity:      0.7,
		Suggestions:  []string{ValidationFailedSuggestion},
		Failed:       true,
	}
}

// Risk levels reported by the guardrail check.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Guardrail is the outcome of the ethical guardrail check.
type Guardrail struct {
	Passed     bool     `json:"passed"`
	RiskLevel  string   `json:"risk_level"`
	Violations []string `json:"violations,omitempty"`
	// Failure is set when the check itself could not run.
	Failure string `json:"failure,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// ParseGuardrail reads the labelled check. Missing fields mean passed with
// low risk.
func ParseGuardrail(text string) Guardrail {
	values, bullets := labels(text)
	risk := strings.ToLower(strings.Trim(strings.TrimSpace(values["RISK_LEVEL"]), ".*"))
	switch {
	case strings.HasPrefix(risk, RiskHigh):
		risk = RiskHigh
	case strings.HasPrefix(risk, RiskMedium):
		risk = RiskMedium
	default:
		risk = RiskLow
	}
	return Guardrail{
		Passed:     yes(values, "PASSED", true),
		RiskLevel:  risk,
		Violations: bullets,
	}
}

// FailedGuardrail is the result used when the guardrail call fails.
func FailedGuardrail(err error) Guardrail {
	note := fmt.Sprintf("guardrail check failed: %v", err)
	return Guardrail{Passed: true, RiskLevel: RiskMedium, Violations: []string{note}, Failure: note}
}

// Reviewer runs both checks on a reasoning model.
type Reviewer struct {
	llm    agent.LLMClient
	logger *slog.Logger
}

func New(llm agent.LLMClient) *Reviewer {
	return &Reviewer{llm: llm, logger: logging.WithComponent("review")}
}

// Quality scores answer. A score under cfg.HumanReviewThreshold also flags
// human review.
func (r *Reviewer) Quality(ctx context.Context, answer string, cfg legal.ProcessingConfig) Quality {
	ctx, span := telemetry.Start(ctx, "review.quality")
	var err error
	defer func() { telemetry.End(span, err) }()

	var text string
	text, err = agent.Text(ctx, r.llm, qualitySystemPrompt, fmt.Sprintf(qualityPrompt, legal.TruncateRunes(answer, qualityExcerpt)), reviewSettings(cfg))
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty assessment")
	}
	if err != nil {
		r.logger.Warn("quality validation failed", "error", err)
		return FailedQuality()
	}

	q := ParseQuality(text)
	if q.OverallScore < cfg.HumanReviewThreshold && !q.NeedsHumanReview {
		q.NeedsHumanReview = true
		if q.ReviewReason == "" {
			q.ReviewReason = fmt.Sprintf("overall score %.2f below review threshold %.2f", q.OverallScore, cfg.HumanReviewThreshold)
		}
	}
	span.SetAttributes(attribute.Float64("review.overall_score", q.OverallScore))
	return q
}

// Guardrails checks answer unless guardrails are disabled.
func (r *Reviewer) Guardrails(ctx context.Context, answer string, cfg legal.ProcessingConfig) Guardrail {
	if !cfg.EnableGuardrails {
		return Guardrail{Passed: true, RiskLevel: RiskLow, Skipped: true}
	}
	ctx, span := telemetry.Start(ctx, "review.guardrails")
	var err error
	defer func() { telemetry.End(span, err) }()

	var text string
	text, err = agent.Text(ctx, r.llm, guardrailSystemPrompt, fmt.Sprintf(guardrailPrompt, legal.TruncateRunes(answer, guardrailExcerpt)), reviewSettings(cfg))
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty guardrail verdict")
	}
	if err != nil {
		r.logger.Warn("guardrail check failed", "error", err)
		return FailedGuardrail(err)
	}
	g := ParseGuardrail(text)
	span.SetAttributes(attribute.Bool("review.passed", g.Passed), attribute.String("review.risk", g.RiskLevel))
	return g
}

func reviewSettings(cfg legal.ProcessingConfig) *agent.Settings {
	return &agent.Settings{Temperature: agent.Temperature(0), MaxTokens: min(int64(cfg.MaxTokens), 1000)}
}

const qualitySystemPrompt = "You review legal answers for quality. Reply only in the requested labelled format."

const qualityPrompt = `Assess this legal answer.

ANSWER:
%s

Evaluate completeness, legal accuracy, clarity and structure. Reply exactly in this format:
OVERALL_SCORE: <0.0-1.0>
COMPLETENESS: <0.0-1.0>
ACCURACY: <0.0-1.0>
CLARITY: <0.0-1.0>
NEEDS_IMPROVEMENT: YES|NO
NEEDS_HUMAN_REVIEW: YES|NO
REVIEW_REASON: <one line>
SUGGESTIONS:
- <suggestion>`

const guardrailSystemPrompt = "You check legal answers against ethical guidelines. Reply only in the requested labelled format."

const guardrailPrompt = `Check whether this legal answer follows the ethical guidelines.

ANSWER:
%s

Required checks: it includes a disclaimer about legal advice, makes no categorical claims about specific cases, recommends professional guidance when needed, stays neutral on controversial matters and does not promote illegal activity.

Reply exactly in this format:
PASSED: YES|NO
RISK_LEVEL: LOW|MEDIUM|HIGH
VIOLATIONS:
- <violation>`
