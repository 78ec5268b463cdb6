// Package txn runs a unit of work against a kv.Store with a deadline, rollback on any
// failure, and bounded retries on write conflicts.
package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/snip/internal/errx"
	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/logger"
	"github.com/MrSnakeDoc/snip/internal/retry"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond

	rollbackTimeout = 2 * time.Second
)

// ErrTimeout is returned when an attempt outlives its deadline. Its writes were rolled back.
var ErrTimeout = errors.New("txn: transaction timed out")

// Func is the body of a transaction. It must do all its work through tx and ctx.
type Func func(ctx context.Context, tx kv.Tx) error

// Coordinator runs transaction bodies against one store with a per-attempt deadline,
// retrying conflicts with backoff. It is safe for concurrent use.
type Coordinator struct {
	store   kv.Store
	timeout time.Duration
	policy  retry.Policy
	log     logger.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the deadline of each attempt. Non-positive values keep DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets how many times a conflicting attempt is retried and the first
// backoff delay. n of zero disables retries.
func WithRetries(n uint64, base time.Duration) Option {
	return func(c *Coordinator) {
		c.policy.MaxRetries = n
		if base > 0 {
			c.policy.BaseDelay = base
		}
	}
}

// WithLogger sets where retries, timeouts and rollback failures are logged.
func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// New returns a Coordinator over store with the defaults above.
func New(store kv.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		timeout: DefaultTimeout,
		policy:  retry.Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay},
		log:     logger.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run executes fn inside a transaction. Each retry gets a fresh transaction and a fresh
// deadline. Errors already carrying an errx kind are returned as is.
func (c *Coordinator) Run(ctx context.Context, fn Func) error {
	const op = "txn.Coordinator.Run"

	log := c.log.With(
		logger.String("tx_id", uuid.NewString()),
		logger.String("store", c.store.Name()),
	)

	err := retry.Do(ctx, c.policy, kv.IsTransient,
		func(attempt int, err error, wait time.Duration) {
			log.Warn("transaction conflict, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("backoff", wait),
				logger.Error(err),
			)
		},
		func(ctx context.Context) error { return c.attempt(ctx, log, fn) },
	)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrTimeout):
		log.Warn("transaction timed out", logger.Duration("timeout", c.timeout))
		return errx.E(op, errx.Timeout, err)
	case errx.KindOf(err) != errx.Unknown:
		return err
	case errors.Is(err, retry.ErrExhausted), errors.Is(err, kv.ErrConflict):
		log.Error("transaction gave up after conflicts", logger.Error(err))
		return errx.E(op, errx.Conflict, err)
	case errors.Is(err, kv.ErrUnavailable):
		return errx.E(op, errx.Unavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errx.E(op, errx.Timeout, err)
	default:
		return errx.E(op, errx.Internal, err)
	}
}

func (c *Coordinator) attempt(parent context.Context, log logger.Logger, fn Func) error {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return c.timedOut(parent, ctx, err)
	}

	// A timed out or failed attempt still has to release its handle, so rollback
	// runs on a context that outlives ctx.
	defer func() {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(parent), rollbackTimeout)
		defer rcancel()
		if rerr := tx.Rollback(rctx); rerr != nil && !errors.Is(rerr, kv.ErrTxDone) {
			log.Warn("rollback failed", logger.Error(rerr))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return c.timedOut(parent, ctx, err)
	}
	if err := c.timedOut(parent, ctx, nil); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return c.timedOut(parent, ctx, err)
	}
	return nil
}

// timedOut converts err into ErrTimeout when the attempt deadline, not the caller, ended ctx.
// Drivers that enforce the deadline on the socket can fail a moment before ctx reports it.
func (c *Coordinator) timedOut(parent, ctx context.Context, err error) error {
	if parent.Err() == nil && deadlinePassed(ctx) {
		if err == nil {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func deadlinePassed(ctx context.Context) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	d, ok := ctx.Deadline()
	return ok && !time.Now().Before(d)
}
