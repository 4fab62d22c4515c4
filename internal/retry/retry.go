// Package retry runs remote calls under a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted wraps the last error once every attempt has failed transiently.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds a retry loop. Every loop has a fixed attempt ceiling.
type Policy struct {
	MaxRetries      uint64        // Retries after the first attempt
	InitialInterval time.Duration // First backoff wait
	MaxInterval     time.Duration // Cap on a single backoff wait
	AttemptTimeout  time.Duration // Deadline applied to each attempt (0 = none)
}

// DefaultPolicy mirrors the backoff settings used for Qdrant and OpenAI calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		AttemptTimeout:  30 * time.Second,
	}
}

// Do runs op until it succeeds, fails permanently, or the policy is exhausted.
// isTransient decides which errors are retried; a per-attempt deadline is always
// treated as transient as long as the parent context is still alive.
// Returns the number of attempts made.
func Do(ctx context.Context, p Policy, isTransient func(error) bool, op func(ctx context.Context) error) (int, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0 // bounded by MaxRetries instead

	attempts := 0
	transient := false
	operation := func() error {
		attempts++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			transient = false
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || (isTransient != nil && isTransient(err)) {
			transient = true
			return err
		}
		transient = false
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx))
	if err == nil {
		return attempts, nil
	}
	if ctx.Err() != nil {
		return attempts, ctx.Err()
	}
	if transient {
		return attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
	return attempts, err
}
