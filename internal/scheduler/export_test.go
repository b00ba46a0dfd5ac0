package scheduler

import (
	"context"
	"time"
)

// ExportedPrune exposes the private prune method for external tests.
func (s *Scheduler) ExportedPrune(ctx context.Context) {
	s.prune(ctx)
}

// SetNow replaces the clock used to compute the retention cutoff.
func (s *Scheduler) SetNow(now func() time.Time) {
	s.now = now
}

// ExportedBuildDailyAtTimeJob exposes buildDailyAtTimeJob for external tests.
var ExportedBuildDailyAtTimeJob = buildDailyAtTimeJob
