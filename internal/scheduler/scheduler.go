// Package scheduler runs periodic maintenance jobs on the delivery ledger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Pruner deletes ledger records last updated before a cutoff.
// storage.DeliveryLedger satisfies it.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Config holds the scheduler configuration. PruneAt ("HH:MM", daily) takes
// precedence over PruneEvery.
type Config struct {
	Ledger     Pruner
	Retention  time.Duration
	PruneAt    string
	PruneEvery time.Duration
	Location   *time.Location
	Logger     *slog.Logger
}

// Scheduler manages the ledger retention job using gocron.
type Scheduler struct {
	cron   gocron.Scheduler
	cfg    Config
	jobID  uuid.UUID
	now    func() time.Time
	logger *slog.Logger
}

// New creates a new Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("scheduler: ledger is required")
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("scheduler: retention must be positive, got %s", cfg.Retention)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}

	return &Scheduler{
		cron:   cron,
		cfg:    cfg,
		now:    time.Now,
		logger: cfg.Logger,
	}, nil
}

// Start schedules the retention job and starts the gocron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	jobDef, err := s.buildJobDefinition()
	if err != nil {
		return fmt.Errorf("building prune job definition: %w", err)
	}

	job, err := s.cron.NewJob(jobDef,
		gocron.NewTask(func() { s.prune(ctx) }),
		gocron.WithName("ledger-retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduling prune job: %w", err)
	}
	s.jobID = job.ID()

	s.cron.Start()
	s.logger.Info("ledger retention scheduler started",
		"job_id", s.jobID, "retention", s.cfg.Retention, "prune_at", s.cfg.PruneAt, "prune_every", s.cfg.PruneEvery)
	return nil
}

// Stop shuts down the gocron scheduler.
func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}

// buildJobDefinition converts the configured schedule into a gocron JobDefinition.
func (s *Scheduler) buildJobDefinition() (gocron.JobDefinition, error) {
	if s.cfg.PruneAt != "" {
		return buildDailyAtTimeJob(s.cfg.PruneAt)
	}
	if s.cfg.PruneEvery > 0 {
		return gocron.DurationJob(s.cfg.PruneEvery), nil
	}
	return nil, errors.New("either prune_at or prune_every must be set")
}

// buildDailyAtTimeJob parses an "HH:MM" string and returns a DailyJob definition.
func buildDailyAtTimeJob(at string) (gocron.JobDefinition, error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid at time format: %s", at)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("parsing hour from at time: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("parsing minute from at time: %w", err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("at time values out of range: %d:%d", hour, minute)
	}
	return gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(
		uint(hour),   //nolint:gosec // bounds checked above
		uint(minute), //nolint:gosec // bounds checked above
		0,
	))), nil
}
