// Package observability records named checkpoints of a run. Sinks never
// affect the run: failures are logged and panics recovered.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/lexcrag/pkg/logging"
)

// Checkpoint names emitted by a run.
const (
	QueryCreated       = "query.created"
	RetrievalVectorDB  = "retrieval.vectordb"
	RetrievalLexML     = "retrieval.lexml"
	RetrievalWeb       = "retrieval.web"
	HybridTools        = "hybrid.tools"
	SynthesisCompleted = "synthesis.completed"
	ResponseFinal      = "response.final"
	PipelineFatal      = "pipeline.fatal"
)

// Sink receives checkpoints.
type Sink interface {
	Checkpoint(ctx context.Context, name string, payload map[string]any) error
}

// Checkpoint is the recorded form of one checkpoint.
type Checkpoint struct {
	RunID   string         `json:"run_id" bson:"run_id"`
	Name    string         `json:"name" bson:"name"`
	Payload map[string]any `json:"payload,omitempty" bson:"payload,omitempty"`
	At      time.Time      `json:"at" bson:"at"`
}

type runIDKey struct{}

// WithRunID tags ctx with the run identifier carried into checkpoints.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run identifier of ctx, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

func newCheckpoint(ctx context.Context, name string, payload map[string]any) Checkpoint {
	return Checkpoint{RunID: RunID(ctx), Name: name, Payload: payload, At: time.Now().UTC()}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, name string, payload map[string]any) error

func (f SinkFunc) Checkpoint(ctx context.Context, name string, payload map[string]any) error {
	return f(ctx, name, payload)
}

// Nop discards checkpoints.
var Nop Sink = SinkFunc(func(context.Context, string, map[string]any) error { return nil })

// Multi fans a checkpoint out to several sinks, isolating each one.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

var _ Sink = (*Multi)(nil)

func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{logger: logging.WithComponent("observability")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Checkpoint always returns nil.
func (m *Multi) Checkpoint(ctx context.Context, name string, payload map[string]any) error {
	for _, s := range m.sinks {
		m.deliver(ctx, s, name, payload)
	}
	return nil
}

func (m *Multi) deliver(ctx context.Context, s Sink, name string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("checkpoint sink panicked", "checkpoint", name, "sink", fmt.Sprintf("%T", s), "panic", r)
		}
	}()
	if err := s.Checkpoint(ctx, name, payload); err != nil {
		m.logger.Warn("checkpoint sink failed", "checkpoint", name, "sink", fmt.Sprintf("%T", s), "error", err)
	}
}

// Emit delivers a checkpoint through an isolating Multi. A nil sink is a no-op.
func Emit(ctx context.Context, s Sink, name string, payload map[string]any) {
	if s == nil {
		return
	}
	if m, ok := s.(*Multi); ok {
		_ = m.Checkpoint(ctx, name, payload)
		return
	}
	_ = NewMulti(s).Checkpoint(ctx, name, payload)
}
