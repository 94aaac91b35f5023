// Package retry runs an operation under a bounded, exponentially backed-off
// retry policy. Only errors accepted by the policy's predicate are retried;
// everything else, including cancellation, is returned immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	ledgererrors "drivechain/core/errors"
)

const (
	defaultMaxAttempts = 3
	defaultMinBackoff  = 200 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
	defaultJitter      = 0.5
)

// Policy describes how often and how patiently to retry.
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	// Jitter is the randomization factor applied to each wait, in [0, 1).
	// Zero uses 0.5; a negative value disables jitter.
	Jitter float64
	// Retryable decides whether err warrants another attempt. Nil means
	// errors.Retryable from core/errors (transport failures only).
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of attempt number next.
	OnRetry func(next int, err error, wait time.Duration)
}

// DefaultPolicy retries transport failures three times starting at 200ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		MinBackoff:  defaultMinBackoff,
		MaxBackoff:  defaultMaxBackoff,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.MinBackoff <= 0 {
		p.MinBackoff = defaultMinBackoff
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = p.MinBackoff
	}
	switch {
	case p.Jitter == 0:
		p.Jitter = defaultJitter
	case p.Jitter < 0:
		p.Jitter = 0
	case p.Jitter >= 1:
		p.Jitter = defaultJitter
	}
	if p.Retryable == nil {
		p.Retryable = ledgererrors.Retryable
	}
	return p
}

// schedule builds the backoff for one Do call: exponential from MinBackoff,
// capped at MaxBackoff, stopped after MaxAttempts and by ctx.
func (p Policy) schedule(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.MinBackoff
	exp.MaxInterval = p.MaxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. A context cancelled before or between attempts yields
// an error wrapping ErrCancelled.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a result.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	var (
		zero    T
		attempt int
		lastErr error
	)
	if err := ctx.Err(); err != nil {
		return zero, cancelled(err, nil)
	}
	operation := func() (T, error) {
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(cancelled(err, lastErr))
		}
		attempt++
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !p.Retryable(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}
	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}
	}
	value, err := backoff.RetryNotifyWithData(operation, p.schedule(ctx), notify)
	if err == nil {
		return value, nil
	}
	if errors.Is(err, ledgererrors.ErrCancelled) {
		return zero, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
		return zero, cancelled(ctxErr, lastErr)
	}
	return zero, err
}

func cancelled(ctxErr, last error) error {
	if last != nil {
		return fmt.Errorf("%w: %w (last error: %v)", ledgererrors.ErrCancelled, ctxErr, last)
	}
	return fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, ctxErr)
}

// IsCancelled reports whether err came from an abandoned retry loop.
func IsCancelled(err error) bool {
	return errors.Is(err, ledgererrors.ErrCancelled)
}
