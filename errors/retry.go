package errors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryableError records a failed operation together with its retry budget.
type RetryableError struct {
	Type          string
	Message       string
	RetryCount    int
	MaxRetries    int
	BackoffFactor float64
	Err           error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %s", e.Type, e.RetryCount+1, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// CanRetry reports whether another attempt is allowed.
func (e *RetryableError) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// Backoff returns the delay before the next attempt.
func (e *RetryableError) Backoff(base time.Duration) time.Duration {
	factor := e.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	return time.Duration(float64(base) * math.Pow(factor, float64(e.RetryCount)))
}

// Policy bounds a retry loop.
type Policy struct {
	MaxRetries    int
	BackoffFactor float64
	BaseDelay     time.Duration
}

// DefaultPolicy mirrors the defaults of RetryableError.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BackoffFactor: 1.0, BaseDelay: 500 * time.Millisecond}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry runs fn until it succeeds, the budget is spent, the error is permanent
// or ctx is done. The returned error is a *RetryableError wrapping the last failure.
func Retry(ctx context.Context, kind string, policy Policy, fn func(context.Context) error) error {
	state := &RetryableError{
		Type:          kind,
		MaxRetries:    policy.MaxRetries,
		BackoffFactor: policy.BackoffFactor,
	}
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		state.Err = err
		state.Message = err.Error()

		if IsPermanent(err) || ctx.Err() != nil || !state.CanRetry() {
			return state
		}

		timer := time.NewTimer(state.Backoff(policy.BaseDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			state.Err = errors.Join(err, ctx.Err())
			return state
		case <-timer.C:
		}
		state.RetryCount++
	}
}
