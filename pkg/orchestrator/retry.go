package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig tunes ExecuteWithRetry. Retryable classifies errors; a nil
// classifier retries everything.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Retryable       func(error) bool
}

// RetryResult reports the retried operation's outcome.
type RetryResult struct {
	Success   bool
	Result    any
	Attempts  int
	LastError error
}

// FallbackResult reports which path produced the result.
type FallbackResult struct {
	Result       any
	UsedFallback bool
	Err          error
}

// ExecuteWithRetry runs op with exponential backoff until it succeeds, the
// attempt budget is spent, or the classifier rejects the error.
func ExecuteWithRetry(ctx context.Context, op func(context.Context) (any, error), cfg RetryConfig) RetryResult {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	policy := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	policy.Reset()

	outcome := RetryResult{}
	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(cfg.MaxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		outcome.Attempts++
		result, err := op(ctx)
		if err == nil {
			outcome.Success = true
			outcome.Result = result
			return nil
		}
		outcome.LastError = err
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, wrapped)

	if err != nil {
		outcome.Success = false
	}
	return outcome
}

// ExecuteWithFallback runs primary and, on error, runs fallback.
func ExecuteWithFallback(ctx context.Context, primary, fallback func(context.Context) (any, error)) FallbackResult {
	result, err := primary(ctx)
	if err == nil {
		return FallbackResult{Result: result}
	}

	result, fbErr := fallback(ctx)
	if fbErr != nil {
		return FallbackResult{UsedFallback: true, Err: fbErr}
	}
	return FallbackResult{Result: result, UsedFallback: true}
}
