package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"DigestCurator/internal/ports"
)

// Scheduler wires the daily driver with the single-flight runner.
type Scheduler struct {
	driver ports.Scheduler
	runner *Runner
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring cycles.
func NewScheduler(driver ports.Scheduler, runner *Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, runner: runner, logger: logger}
}

// Start registers the runner with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.runner == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.logger.Info("scheduled pipeline run", "trigger", trigger)
		_, err := s.runner.RunNow(ctx, RunOptions{})
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			s.logger.Warn("scheduled run skipped, pipeline already running")
		case err != nil:
			s.logger.Error("scheduled pipeline run failed", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
