// Package synthesis writes the final answer in four length-checked sections
// and streams it in small chunks.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/lexcrag/agent"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultContextTokens bounds the analysis passed to each section prompt.
const DefaultContextTokens = 3000

// minFallbackChars is the shortest single-call answer that is accepted.
const minFallbackChars = 200

// Truncator trims text to a token budget.
type Truncator interface {
	Truncate(text string, maxTokens int) string
}

// Emit receives streamed chunks in order.
type Emit func(chunk string)

// SectionResult is one finalised section.
type SectionResult struct {
	Name     string
	Text     string
	Words    int
	Expanded bool
}

// Result is the outcome of a synthesis.
type Result struct {
	// Text is the concatenation of every streamed chunk, trimmed.
	Text      string
	Sections  []SectionResult
	Fallback  bool
	Templated bool
	Calls     int
}

type Option func(*Synthesizer)

func WithTruncator(t Truncator) Option {
	return func(s *Synthesizer) { s.truncator = t }
}

func WithContextTokens(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.contextTokens = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// Synthesizer writes answers with a reasoning model.
type Synthesizer struct {
	llm           agent.LLMClient
	truncator     Truncator
	contextTokens int
	logger        *slog.Logger
}

func New(llm agent.LLMClient, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		llm:           llm,
		contextTokens: DefaultContextTokens,
		logger:        logging.WithComponent("synthesis"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type run struct {
	s        *Synthesizer
	settings *agent.Settings
	emit     Emit
	out      strings.Builder
	result   Result
}

func (r *run) stream(header, text string) {
	for _, c := range Chunks(header, text) {
		r.out.WriteString(c)
		if r.emit != nil {
			r.emit(c)
		}
	}
}

func (r *run) call(ctx context.Context, prompt string) (string, error) {
	r.result.Calls++
	text, err := agent.Text(ctx, r.s.llm, systemPrompt, prompt, r.settings)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Synthesize writes the four sections, streaming each once final. If a
// section call fails a single-call answer is tried, then the templated
// answer. Only provider exhaustion is returned as an error.
func (s *Synthesizer) Synthesize(ctx context.Context, query, analysis string, cfg legal.ProcessingConfig, emit Emit) (_ Result, err error) {
	ctx, span := telemetry.Start(ctx, "synthesis.sections")
	defer func() { telemetry.End(span, err) }()

	r := &run{
		s:        s,
		settings: &agent.Settings{Temperature: agent.Temperature(cfg.Temperature), MaxTokens: int64(cfg.MaxTokens)},
		emit:     emit,
	}
	evidence := s.evidence(analysis)

	for _, sec := range Sections {
		text, err := r.call(ctx, sectionPrompt(sec, query, evidence))
		if err == nil && text == "" {
			err = fmt.Errorf("empty %s", sec.Name)
		}
		if err != nil {
			if errors.Is(err, errorskg.ErrNoReasoningProvider) {
				return r.result, err
			}
			s.logger.Warn("section failed, falling back to single call", "section", sec.Name, "error", err)
			return s.fallback(ctx, r, query, evidence, analysis)
		}

		res := SectionResult{Name: sec.Name, Text: text, Words: WordCount(text)}
		if res.Words < sec.Floor {
			res = s.expand(ctx, r, sec, query, res)
		}
		r.stream(sec.Header, res.Text)
		r.result.Sections = append(r.result.Sections, res)
	}

	r.result.Text = strings.TrimSpace(r.out.String())
	span.SetAttributes(attribute.Int("synthesis.calls", r.result.Calls))
	return r.result, nil
}

// expand makes at most MaxExpansions attempts and keeps the longer text.
func (s *Synthesizer) expand(ctx context.Context, r *run, sec Section, query string, res SectionResult) SectionResult {
	for i := 0; i < MaxExpansions; i++ {
		longer, err := r.call(ctx, expansionPrompt(sec, query, res.Text))
		if err != nil {
			s.logger.Warn("expansion failed, keeping original", "section", sec.Name, "error", err)
			return res
		}
		if words := WordCount(longer); words > res.Words {
			res = SectionResult{Name: sec.Name, Text: longer, Words: words, Expanded: true}
		}
		if res.Words >= sec.Floor {
			break
		}
	}
	if res.Words < sec.Floor {
		s.logger.Info("section below floor after expansion", "section", sec.Name, "words", res.Words, "floor", sec.Floor)
	}
	return res
}

func (s *Synthesizer) fallback(ctx context.Context, r *run, query, evidence, analysis string) (Result, error) {
	r.result.Fallback = true
	text, err := r.call(ctx, fallbackPrompt(query, evidence))
	switch {
	case err != nil && errors.Is(err, errorskg.ErrNoReasoningProvider):
		return r.result, err
	case err == nil && len([]rune(text)) >= minFallbackChars:
		r.stream(FallbackHeader, text)
	default:
		if err != nil {
			s.logger.Warn("single-call synthesis failed, using templated answer", "error", err)
		}
		r.result.Templated = true
		r.stream(FallbackHeader, TemplatedAnswer(query, analysis))
	}
	r.result.Text = strings.TrimSpace(r.out.String())
	return r.result, nil
}

func (s *Synthesizer) evidence(analysis string) string {
	c := ContextFor(analysis)
	if c == GeneralKnowledge {
		return c
	}
	if s.truncator != nil {
		return s.truncator.Truncate(c, s.contextTokens)
	}
	return legal.TruncateRunes(c, s.contextTokens*4)
}
