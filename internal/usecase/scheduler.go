package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"PECorpus/internal/ports"
)

// Scheduler wires the interval driver with the acquisition use case.
type Scheduler struct {
	driver      ports.Scheduler
	acquisition *Acquisition
	sources     []Source
	logger      *slog.Logger
	failed      chan error
}

// NewScheduler returns a helper to start/stop recurring crawl cycles.
func NewScheduler(driver ports.Scheduler, acquisition *Acquisition, sources []Source, log *slog.Logger) *Scheduler {
	return &Scheduler{
		driver:      driver,
		acquisition: acquisition,
		sources:     sources,
		logger:      log,
		failed:      make(chan error, 1),
	}
}

// Failed delivers the first cycle error that was not a disk-usage skip.
func (s *Scheduler) Failed() <-chan error {
	return s.failed
}

// Start registers the acquisition cycle with the provided scheduler. A cycle
// skipped for disk usage is retried on the next tick; any other error is
// reported on Failed.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.acquisition == nil {
		return nil
	}

	job := func(trigger time.Time) {
		_, err := s.acquisition.RunCycle(ctx, s.sources)
		switch {
		case err == nil:
			return
		case errors.Is(err, ErrDiskThreshold):
			if s.logger != nil {
				s.logger.Warn("cycle skipped", "trigger", trigger.Format(time.RFC3339), "error", err)
			}
			return
		}
		select {
		case s.failed <- err:
		default:
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
