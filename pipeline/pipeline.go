// Package pipeline drives one legal query end to end and exposes the run as
// an ordered stream of events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/lexcrag/crag"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/hybrid"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/observability"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Stage classifies an event.
type Stage string

const (
	StageProgress  Stage = "progress"
	StageStreaming Stage = "streaming"
	StageFinal     Stage = "final"
	StageError     Stage = "error"
)

// Event is one element of a run's stream. Every stream ends with exactly one
// final or error event.
type Event struct {
	Stage    Stage                `json:"stage"`
	Step     string               `json:"step,omitempty"`
	Message  string               `json:"message,omitempty"`
	Chunk    string               `json:"chunk,omitempty"`
	Response *legal.FinalResponse `json:"response,omitempty"`
	Err      error                `json:"-"`
}

// Mode selects how a query is answered.
type Mode string

const (
	// ModeIntegrated runs the CRAG workflow and synthesizes from its evidence.
	ModeIntegrated Mode = "integrated"
	// ModeStandalone lets the hybrid processor choose and search sources itself.
	ModeStandalone Mode = "standalone"
)

// Request is the caller's input for one run.
type Request struct {
	Text            string                  `json:"text"`
	Priority        legal.Priority          `json:"priority,omitempty"`
	ValidationLevel legal.ValidationLevel   `json:"validation_level,omitempty"`
	UserID          string                  `json:"user_id,omitempty"`
	SessionID       string                  `json:"session_id,omitempty"`
	Mode            Mode                    `json:"mode,omitempty"`
	Config          *legal.ProcessingConfig `json:"config,omitempty"`
}

// Deps are built once and shared by every run.
type Deps struct {
	Workflow  *crag.Workflow
	Processor *hybrid.Processor
	Sink      observability.Sink
}

// Service runs requests. It is safe for concurrent use.
type Service struct {
	deps   Deps
	cfg    legal.ProcessingConfig
	logger *slog.Logger
}

// New validates cfg, the default configuration of every run.
func New(deps Deps, cfg legal.ProcessingConfig) (*Service, error) {
	if deps.Workflow == nil || deps.Processor == nil {
		return nil, fmt.Errorf("pipeline: %w: workflow and processor are required", errorskg.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		deps.Sink = observability.Nop
	}
	return &Service{deps: deps, cfg: cfg, logger: logging.WithComponent("pipeline")}, nil
}

// Config returns the default processing configuration.
func (s *Service) Config() legal.ProcessingConfig { return s.cfg }

// Run streams the run for req. Events are produced synchronously while the
// consumer iterates; stopping early cancels the run.
func (s *Service) Run(ctx context.Context, req Request) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		send := func(ev Event) {
			if stopped {
				return
			}
			if !yield(ev) {
				stopped = true
				cancel()
			}
		}

		q, cfg, err := s.prepare(req)
		if err != nil {
			s.logger.Info("request rejected", "error", err)
			send(Event{Stage: StageError, Message: err.Error(), Err: err})
			return
		}
		send(Event{Stage: StageFinal, Response: s.execute(ctx, q, cfg, req.Mode, send)})
	}
}

func (s *Service) prepare(req Request) (legal.Query, legal.ProcessingConfig, error) {
	cfg := s.cfg
	if req.Config != nil {
		if err := req.Config.Validate(); err != nil {
			return legal.Query{}, cfg, err
		}
		cfg = *req.Config
	}
	switch req.Mode {
	case "", ModeIntegrated, ModeStandalone:
	default:
		return legal.Query{}, cfg, fmt.Errorf("%w: unknown mode %q", errorskg.ErrInvalidInput, req.Mode)
	}
	q, err := legal.NewQuery(req.Text,
		legal.WithPriority(req.Priority),
		legal.WithValidationLevel(req.ValidationLevel),
		legal.WithUser(req.UserID, req.SessionID),
	)
	if err != nil {
		return legal.Query{}, cfg, err
	}
	return *q, cfg, nil
}

func (s *Service) execute(ctx context.Context, q legal.Query, cfg legal.ProcessingConfig, mode Mode, send func(Event)) (final *legal.FinalResponse) {
	if mode == "" {
		mode = ModeIntegrated
	}
	ctx = observability.WithRunID(ctx, q.ID)
	ctx, span := telemetry.Start(ctx, "pipeline.run", attribute.String("query.id", q.ID), attribute.String("pipeline.mode", string(mode)))
	defer func() { telemetry.End(span, nil) }()

	q, _ = q.WithStatus(legal.StatusProcessing)
	observability.Emit(ctx, s.deps.Sink, observability.QueryCreated, map[string]any{
		"query_id": q.ID,
		"mode":     string(mode),
		"priority": string(q.Priority),
	})
	send(Event{Stage: StageProgress, Step: "query", Message: "query received"})

	report := crag.Reporter{
		Progress: func(step, msg string) { send(Event{Stage: StageProgress, Step: step, Message: msg}) },
		Chunk:    func(c string) { send(Event{Stage: StageStreaming, Chunk: c}) },
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("run panicked", "query_id", q.ID, "panic", r)
			observability.Emit(ctx, s.deps.Sink, observability.PipelineFatal, map[string]any{"node": "pipeline", "error": fmt.Sprint(r)})
			final = crag.FailedResponse(q.ID, "pipeline")
			s.finish(ctx, q, final)
		}
	}()

	switch mode {
	case ModeStandalone:
		resp, err := s.deps.Processor.Run(ctx, q, cfg, report)
		if err != nil {
			s.logger.Error("standalone run failed", "query_id", q.ID, "error", err)
			observability.Emit(ctx, s.deps.Sink, observability.PipelineFatal, map[string]any{"node": "hybrid", "error": err.Error()})
			resp = crag.FailedResponse(q.ID, "hybrid")
		}
		final = resp
	default:
		final = s.deps.Workflow.Run(ctx, q, cfg, report).Final
	}
	s.finish(ctx, q, final)
	return final
}

func (s *Service) finish(ctx context.Context, q legal.Query, final *legal.FinalResponse) {
	if next, err := q.WithStatus(final.Status); err == nil {
		q = next
	}
	observability.Emit(ctx, s.deps.Sink, observability.ResponseFinal, map[string]any{
		"response":   final,
		"status":     string(final.Status),
		"confidence": final.Confidence,
		"warnings":   strings.Join(final.Warnings, "; "),
	})
	s.logger.Info("run finished", "query_id", q.ID, "status", q.Status, "confidence", final.Confidence, "warnings", len(final.Warnings))
}

// Answer drains a run and returns its final response.
func (s *Service) Answer(ctx context.Context, req Request) (*legal.FinalResponse, error) {
	for ev := range s.Run(ctx, req) {
		switch ev.Stage {
		case StageFinal:
			return ev.Response, nil
		case StageError:
			return nil, ev.Err
		}
	}
	return nil, errors.New("pipeline: run ended without a terminal event")
}
