package scheduler

import (
	"context"
	"time"
)

// pruneTimeout bounds a single retention run.
const pruneTimeout = 5 * time.Minute

// prune removes ledger records older than the retention window.
func (s *Scheduler) prune(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.Retention)
	started := time.Now()
	n, err := s.cfg.Ledger.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error("ledger retention run failed", "cutoff", cutoff, "error", err)
		return
	}
	s.logger.Info("ledger retention run finished",
		"cutoff", cutoff, "deleted", n, "duration", time.Since(started))
}
