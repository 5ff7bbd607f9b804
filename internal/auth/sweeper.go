package auth

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically removes expired entries from the Active-Session Set
type Sweeper struct {
	ctx      context.Context
	cancel   context.CancelFunc
	sessions *Sessions
	logger   *logrus.Entry
	interval time.Duration
}

// NewSweeper creates a session sweep worker
func NewSweeper(sessions *Sessions, logger *logrus.Entry, intervalSec int) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		ctx:      ctx,
		cancel:   cancel,
		sessions: sessions,
		logger:   logger.WithField("component", "session-sweeper"),
		interval: time.Duration(intervalSec) * time.Second,
	}
}

// Start begins the periodic sweep
func (w *Sweeper) Start() {
	w.logger.Info("Starting session sweeper...")
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := w.sessions.RevokeExpired(w.ctx)
				if err != nil {
					w.logger.Errorf("Session sweep failed: %v", err)
					continue
				}
				if removed > 0 {
					w.logger.Infof("Swept %d expired sessions", removed)
				}
			case <-w.ctx.Done():
				w.logger.Info("Stopping session sweeper...")
				return
			}
		}
	}()
}

// Stop gracefully stops the worker
func (w *Sweeper) Stop() {
	w.cancel()
}
