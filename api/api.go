// Package api serves the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/pipeline"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner streams a run. *pipeline.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) iter.Seq[pipeline.Event]
}

type Option func(*handler)

// WithMaxInFlight caps concurrent query requests; extra ones get 429.
func WithMaxInFlight(n int) Option {
	return func(h *handler) { h.maxInFlight = n }
}

// WithMount serves another handler under pattern, e.g. the MCP endpoint.
func WithMount(pattern string, next http.Handler) Option {
	return func(h *handler) { h.mounts = append(h.mounts, mount{pattern, next}) }
}

// WithCheckpointFeed streams the checkpoints published on topic at
// GET /v1/checkpoints.
func WithCheckpointFeed(sub message.Subscriber, topic string) Option {
	return func(h *handler) {
		h.feed = sub
		h.topic = topic
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *handler) {
		if l != nil {
			h.logger = l
		}
	}
}

type mount struct {
	pattern string
	handler http.Handler
}

type handler struct {
	runner      Runner
	maxInFlight int
	mounts      []mount
	feed        message.Subscriber
	topic       string
	logger      *slog.Logger
}

// NewHandler returns the HTTP API:
//
//	GET  /health
//	POST /v1/query         JSON final response
//	POST /v1/query/stream  server-sent events
//	GET  /v1/checkpoints   server-sent checkpoints of every run, if a feed is set
func NewHandler(runner Runner, opts ...Option) http.Handler {
	h := &handler{runner: runner, logger: logging.WithComponent("api")}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(recoverer(h.logger), requestLogger(h.logger))
	r.Get("/health", handleHealth)
	if h.feed != nil {
		r.Get("/v1/checkpoints", h.handleCheckpoints)
	}
	r.Group(func(r chi.Router) {
		if h.maxInFlight > 0 {
			r.Use(limitInFlight(h.maxInFlight))
		}
		r.Post("/v1/query", h.handleQuery)
		r.Post("/v1/query/stream", h.handleStream)
	})
	for _, m := range h.mounts {
		r.Mount(m.pattern, m.handler)
	}
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (pipeline.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return req, false
	}
	return req, true
}

func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	for ev := range h.runner.Run(r.Context(), req) {
		switch ev.Stage {
		case pipeline.StageFinal:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(ev.Response)
			return
		case pipeline.StageError:
			status := http.StatusInternalServerError
			if errors.Is(ev.Err, errorskg.ErrInvalidInput) {
				status = http.StatusBadRequest
			}
			httpError(w, status, "%s", ev.Message)
			return
		}
	}
	httpError(w, http.StatusInternalServerError, "run ended without a response")
}

// handleStream writes one SSE frame per event. The event name is the stage.
func (h *handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	startStream(w)

	for ev := range h.runner.Run(r.Context(), req) {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("encode event", "stage", ev.Stage, "error", err)
			continue
		}
		if err := writeFrame(w, flusher, string(ev.Stage), data); err != nil {
			h.logger.Info("client went away", "error", err)
			return
		}
	}
}

// handleCheckpoints relays bus messages until the client disconnects.
func (h *handler) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	msgs, err := h.feed.Subscribe(r.Context(), h.topic)
	if err != nil {
		httpError(w, http.StatusServiceUnavailable, "subscribe: %v", err)
		return
	}
	startStream(w)

	for msg := range msgs {
		err := writeFrame(w, flusher, msg.Metadata.Get("checkpoint"), msg.Payload)
		msg.Ack()
		if err != nil {
			h.logger.Info("client went away", "error", err)
			return
		}
	}
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeFrame(w io.Writer, f http.Flusher, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	f.Flush()
	return nil
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(format, args...)})
}
