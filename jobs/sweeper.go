package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically deletes expired jobs
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewSweeper creates a sweeper that runs every interval
func NewSweeper(store *Store, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce deletes expired jobs once and logs the outcome
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		s.logger.Warnw("Expired job sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Infow("Expired jobs removed", "count", n)
	}
	return n
}
