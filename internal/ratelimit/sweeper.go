package ratelimit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Buckets idle for this long are evicted by the sweep
const idleBucketAge = time.Hour

// Sweeper periodically evicts idle rate-limit buckets
type Sweeper struct {
	ctx      context.Context
	cancel   context.CancelFunc
	limiter  *Limiter
	logger   *logrus.Entry
	interval time.Duration
}

// NewSweeper creates a bucket sweep worker
func NewSweeper(limiter *Limiter, logger *logrus.Entry, intervalSec int) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		ctx:      ctx,
		cancel:   cancel,
		limiter:  limiter,
		logger:   logger.WithField("component", "ratelimit-sweeper"),
		interval: time.Duration(intervalSec) * time.Second,
	}
}

// Start begins the periodic sweep
func (w *Sweeper) Start() {
	w.logger.Info("Starting rate-limit bucket sweeper...")
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := w.limiter.Sweep(idleBucketAge); removed > 0 {
					w.logger.Infof("Evicted %d idle rate-limit buckets", removed)
				}
			case <-w.ctx.Done():
				w.logger.Info("Stopping rate-limit bucket sweeper...")
				return
			}
		}
	}()
}

// Stop gracefully stops the worker
func (w *Sweeper) Stop() {
	w.cancel()
}
