// Package scheduler runs periodic maintenance against the store.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/logger"
)

const (
	// DefaultSweepInterval is used when no interval is configured.
	DefaultSweepInterval = 5 * time.Minute

	sweepTimeout = 30 * time.Second
)

// ExpirySweeper deletes expired rows from backends that only filter them on read.
type ExpirySweeper struct {
	sweeper  kv.Sweeper
	logger   logger.Logger
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewExpirySweeper creates a sweeper. It does nothing until Start.
func NewExpirySweeper(sw kv.Sweeper, log logger.Logger, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ExpirySweeper{
		sweeper:  sw,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start sweeps once, then keeps sweeping every interval until ctx is done or Stop is called.
func (es *ExpirySweeper) Start(ctx context.Context) error {
	// Run immediately on start
	if _, err := es.Sweep(ctx); err != nil {
		es.logger.Warn("initial expiry sweep failed",
			logger.Error(err))
	}

	ticker := time.NewTicker(es.interval)
	go func() {
		defer close(es.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := es.Sweep(ctx); err != nil {
					es.logger.Error("expiry sweep failed",
						logger.Error(err))
				}
			case <-es.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop ends the loop and waits for an in-flight sweep. Safe to call more than once,
// but only after Start.
func (es *ExpirySweeper) Stop() {
	es.stopOnce.Do(func() { close(es.stopCh) })
	<-es.doneCh
}

// Sweep runs one pass and returns how many entries were removed.
func (es *ExpirySweeper) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := es.sweeper.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		es.logger.Info("expiry sweep completed",
			logger.Int64("deleted", n),
			logger.Duration("took", time.Since(start)))
	} else {
		es.logger.Debug("no expired entries to sweep")
	}
	return n, nil
}
