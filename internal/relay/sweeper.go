package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper removes pending-command records past the retention window so the
// correlation table does not grow without bound.
type Sweeper struct {
	ctx       context.Context
	cancel    context.CancelFunc
	store     *Store
	logger    *logrus.Entry
	retention time.Duration
	interval  time.Duration
}

// NewSweeper creates a command retention worker
func NewSweeper(store *Store, logger *logrus.Entry, retentionSec, intervalSec int) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		ctx:       ctx,
		cancel:    cancel,
		store:     store,
		logger:    logger.WithField("component", "command-sweeper"),
		retention: time.Duration(retentionSec) * time.Second,
		interval:  time.Duration(intervalSec) * time.Second,
	}
}

// Start begins the periodic sweep
func (w *Sweeper) Start() {
	w.logger.Info("Starting command retention sweeper...")
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := w.store.Sweep(w.retention); removed > 0 {
					w.logger.Infof("Swept %d commands past retention", removed)
				}
			case <-w.ctx.Done():
				w.logger.Info("Stopping command retention sweeper...")
				return
			}
		}
	}()
}

// Stop gracefully stops the worker
func (w *Sweeper) Stop() {
	w.cancel()
}
