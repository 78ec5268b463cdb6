// Package retry re-runs an operation with exponential backoff while its error is classified
// as transient. Every storage adapter and the transaction coordinator share it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted wraps the last error once every allowed retry has failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds a retry loop. Delays grow as BaseDelay, 2*BaseDelay, 4*BaseDelay...
type Policy struct {
	MaxRetries uint64        // retries after the first attempt
	BaseDelay  time.Duration // wait before the first retry
	MaxDelay   time.Duration // cap on a single wait, 0 = uncapped
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Notify is called before each wait with the error that caused it.
type Notify func(attempt int, err error, wait time.Duration)

// Do runs fn until it succeeds, returns a non-retryable error, the policy is exhausted,
// or ctx is done. Non-retryable errors are returned unchanged.
func Do(ctx context.Context, p Policy, retryable Classifier, notify Notify, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	} else {
		b.MaxInterval = time.Duration(1<<62 - 1)
	}
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)

	attempts := 0
	var transient bool
	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) {
			transient = false
			return backoff.Permanent(err)
		}
		transient = true
		return err
	}

	var onWait backoff.Notify
	if notify != nil {
		onWait = func(err error, wait time.Duration) { notify(attempts, err, wait) }
	}

	err := backoff.RetryNotify(op, policy, onWait)
	if err == nil {
		return nil
	}
	if transient && ctx.Err() == nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
	return err
}
