package retrieval

import (
	"context"
	"errors"
	"time"

	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
)

// DefaultRetryDelay is the base delay between search attempts.
const DefaultRetryDelay = 500 * time.Millisecond

// RetryPolicy derives the search retry policy from cfg.
func RetryPolicy(cfg legal.ProcessingConfig, base time.Duration) errorskg.Policy {
	if base <= 0 {
		base = DefaultRetryDelay
	}
	return errorskg.Policy{MaxRetries: cfg.MaxRetries, BackoffFactor: cfg.RetryBackoffFactor, BaseDelay: base}
}

// Call runs fn under policy, giving each attempt its own timeout. Invalid
// input, missing configuration and non-retryable status codes are not retried.
func Call[T any](ctx context.Context, kind string, policy errorskg.Policy, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := errorskg.Retry(ctx, kind, policy, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		v, err := fn(attemptCtx)
		if err != nil {
			if !retryable(err) {
				return errorskg.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func retryable(err error) bool {
	if errors.Is(err, errorskg.ErrInvalidInput) || errors.Is(err, errorskg.ErrProviderNotConfigured) {
		return false
	}
	var status interface{ Retryable() bool }
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return true
}
