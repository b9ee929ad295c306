package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LogSink writes checkpoints to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = logging.WithComponent("checkpoint")
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Checkpoint(ctx context.Context, name string, payload map[string]any) error {
	args := []any{"checkpoint", name, "run_id", RunID(ctx)}
	for k, v := range payload {
		if _, ok := v.(*legal.FinalResponse); ok {
			continue
		}
		args = append(args, k, v)
	}
	s.logger.InfoContext(ctx, "checkpoint", args...)
	return nil
}

// TraceSink adds checkpoints as events on the active span.
type TraceSink struct{}

func (TraceSink) Checkpoint(ctx context.Context, name string, payload map[string]any) error {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		}
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
	return nil
}

// BusSink publishes checkpoints as JSON messages on a watermill topic.
type BusSink struct {
	publisher message.Publisher
	topic     string
}

func NewBusSink(publisher message.Publisher, topic string) *BusSink {
	return &BusSink{publisher: publisher, topic: topic}
}

func (s *BusSink) Checkpoint(ctx context.Context, name string, payload map[string]any) error {
	raw, err := json.Marshal(newCheckpoint(ctx, name, payload))
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	msg.Metadata.Set("checkpoint", name)
	msg.SetContext(ctx)
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// Recorder persists checkpoints.
type Recorder interface {
	Record(ctx context.Context, cp Checkpoint) error
}

// ResponseArchiver persists final responses.
type ResponseArchiver interface {
	SaveResponse(ctx context.Context, runID string, resp *legal.FinalResponse) error
}

// ArchiveSink records every checkpoint and, when the recorder can, the final
// response carried by response.final under the "response" key.
type ArchiveSink struct {
	recorder Recorder
}

func NewArchiveSink(r Recorder) *ArchiveSink {
	return &ArchiveSink{recorder: r}
}

func (s *ArchiveSink) Checkpoint(ctx context.Context, name string, payload map[string]any) error {
	stored := make(map[string]any, len(payload))
	var resp *legal.FinalResponse
	for k, v := range payload {
		if r, ok := v.(*legal.FinalResponse); ok {
			resp = r
			continue
		}
		stored[k] = v
	}
	if err := s.recorder.Record(ctx, newCheckpoint(ctx, name, stored)); err != nil {
		return err
	}
	if archiver, ok := s.recorder.(ResponseArchiver); ok && resp != nil {
		return archiver.SaveResponse(ctx, RunID(ctx), resp)
	}
	return nil
}
