package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pipeline"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type answerFunc func(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error)

func (f answerFunc) Answer(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error) {
	return f(ctx, req)
}

func echo(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error) {
	return &legal.FinalResponse{QueryID: req.Text, Status: legal.StatusCompleted}, nil
}

func tasks(n int) []Task {
	out := make([]Task, n)
	for i := range out {
		out[i] = Task{ID: fmt.Sprintf("task%d", i), Request: pipeline.Request{Text: fmt.Sprintf("input%d", i)}}
	}
	return out
}

func TestNewDefaultConcurrency(t *testing.T) {
	if got := New(answerFunc(echo), 0).Concurrency(); got != DefaultConcurrency {
		t.Errorf("expected %d, got %d", DefaultConcurrency, got)
	}
}

func TestRunBatchEmpty(t *testing.T) {
	r := New(answerFunc(echo), 2)
	if results := r.RunBatch(context.Background(), nil); len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestRunBatchKeepsTaskOrder(t *testing.T) {
	r := New(answerFunc(echo), 3)
	results := r.RunBatch(context.Background(), tasks(6))

	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for i, res := range results {
		if res.TaskID != fmt.Sprintf("task%d", i) {
			t.Errorf("result %d: expected task%d, got %s", i, i, res.TaskID)
		}
		if res.Response == nil || res.Response.QueryID != fmt.Sprintf("input%d", i) {
			t.Errorf("result %d: unexpected response %+v", i, res.Response)
		}
	}
}

func TestRunBatchConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := answerFunc(func(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return echo(ctx, req)
	})

	New(slow, 2).RunBatch(context.Background(), tasks(6))

	if got := peak.Load(); got > 2 {
		t.Errorf("expected at most 2 concurrent runs, saw %d", got)
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	flaky := answerFunc(func(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error) {
		switch req.Text {
		case "input1":
			return nil, errors.New("query: invalid input")
		case "input2":
			panic("boom")
		}
		return echo(ctx, req)
	})

	results := New(flaky, 2).RunBatch(context.Background(), tasks(4))

	if results[0].Err != nil || results[3].Err != nil {
		t.Errorf("healthy tasks failed: %v, %v", results[0].Err, results[3].Err)
	}
	if results[1].Error != "query: invalid input" {
		t.Errorf("unexpected error: %q", results[1].Error)
	}
	if results[2].Err == nil {
		t.Errorf("expected panic to be reported")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	hold := answerFunc(func(ctx context.Context, req pipeline.Request) (*legal.FinalResponse, error) {
		close(started)
		<-block
		return echo(ctx, req)
	})
	r := New(hold, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), pipeline.Request{Text: "first"})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx, pipeline.Request{Text: "second"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	close(block)
	<-done
}
