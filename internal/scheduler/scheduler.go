// Package scheduler triggers ingestion runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
	"github.com/go-co-op/gocron"
)

// Runner executes one ingestion run.
type Runner interface {
	RunOnce(ctx context.Context, opts pipeline.RunOptions) (pipeline.RunReport, error)
}

// Scheduler runs the pipeline on a standard five-field cron expression, in UTC.
type Scheduler struct {
	cron   *gocron.Scheduler
	job    *gocron.Job
	expr   string
	runner Runner
	opts   pipeline.RunOptions
	logger *slog.Logger
}

// New creates a scheduler. Nothing runs until Start.
func New(expr string, runner Runner, opts pipeline.RunOptions, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		expr:   expr,
		runner: runner,
		opts:   opts,
		logger: logger,
	}
}

// Start registers the job and starts the scheduler. Runs use ctx, so
// cancelling it aborts an in-flight run.
func (s *Scheduler) Start(ctx context.Context) error {
	job, err := s.cron.Cron(s.expr).SingletonMode().Do(func() { s.run(ctx) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.expr, err)
	}
	s.job = job
	s.cron.StartAsync()
	s.logger.Info("scheduler started", "schedule", s.expr, "next_run", job.NextRun())
	return nil
}

// RunNow triggers the job immediately, outside the schedule.
func (s *Scheduler) RunNow() {
	s.cron.RunAll()
}

// NextRun returns the next scheduled run, or zero before Start.
func (s *Scheduler) NextRun() time.Time {
	if s.job == nil {
		return time.Time{}
	}
	return s.job.NextRun()
}

// Stop stops the scheduler. An in-flight run is left to its context.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep, err := s.runner.RunOnce(ctx, s.opts)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Info("scheduled run skipped, a run is in progress")
		return
	case err != nil:
		s.logger.Error("scheduled run failed", "run_id", rep.RunID, "error", err)
		return
	}
	s.logger.Info("scheduled run complete",
		"run_id", rep.RunID,
		"sources", len(rep.Sources),
		"all_failed", rep.AllFailed(),
		"next_run", s.NextRun(),
	)
}
