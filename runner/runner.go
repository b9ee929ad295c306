// Package runner answers batches of independent queries with bounded
// concurrency.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pipeline"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is used when New is given a non-positive limit.
const DefaultConcurrency = 4

// Answerer answers one request. *pipeline.Service satisfies it.
type Answerer interface {
	Answer(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error)
}

// Task is one query of a batch.
type Task struct {
	ID      string           `json:"id" yaml:"id"`
	Request pipeline.Request `json:"request" yaml:"request"`
}

// Result pairs a task with its outcome. Err is set only when the request
// was rejected or the task panicked.
type Result struct {
	TaskID   string               `json:"task_id"`
	Response *legal.FinalResponse `json:"response,omitempty"`
	Err      error                `json:"-"`
	Error    string               `json:"error,omitempty"`
	Duration time.Duration        `json:"duration"`
}

// Runner bounds how many runs share the process at once.
type Runner struct {
	answerer    Answerer
	concurrency int
	semaphore   chan struct{}
	logger      *slog.Logger
}

func New(answerer Answerer, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{
		answerer:    answerer,
		concurrency: concurrency,
		semaphore:   make(chan struct{}, concurrency),
		logger:      logging.WithComponent("runner"),
	}
}

// Concurrency reports the limit.
func (r *Runner) Concurrency() int { return r.concurrency }

// Run answers a single request once a slot is free.
func (r *Runner) Run(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error) {
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.answerer.Answer(ctx, req)
}

// RunBatch answers every task and returns results in task order. One task
// failing never stops the others.
func (r *Runner) RunBatch(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, task := range tasks {
		g.Go(func() error {
			results[i] = r.runTask(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) runTask(ctx context.Context, t Task) (res Result) {
	start := time.Now()
	res.TaskID = t.ID
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic in task %s: %v", t.ID, p)
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
			r.logger.Warn("task failed", "task_id", t.ID, "error", res.Err)
		}
		res.Duration = time.Since(start)
	}()

	res.Response, res.Err = r.Run(ctx, t.Request)
	return res
}
