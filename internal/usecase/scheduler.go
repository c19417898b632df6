package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"SpectrumRanker/internal/ports"
)

// ScheduledRun is a ranking request fired on a cron expression.
type ScheduledRun struct {
	Spec    string
	Request RankRequest
}

// Scheduler wires the cron driver with the ranking use case.
type Scheduler struct {
	driver ports.Scheduler
	ranker *Ranker
	jobs   []ScheduledRun
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring ranking runs.
func NewScheduler(driver ports.Scheduler, ranker *Ranker, jobs []ScheduledRun, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, ranker: ranker, jobs: jobs, logger: logger.With("component", "scheduler")}
}

// Start registers every job with the driver and starts it. Runs are
// synchronous inside the job so the driver can skip overlapping ticks.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.ranker == nil || len(s.jobs) == 0 {
		return nil
	}

	for _, job := range s.jobs {
		req := job.Request
		spec := job.Spec
		err := s.driver.Schedule(spec, func(ctx context.Context) {
			report, err := s.ranker.Run(ctx, req)
			if err != nil {
				s.logger.Error("scheduled ranking rejected", "spec", spec, "criterion_id", req.CriterionID, "model", req.Model, "error", err)
				return
			}
			s.logger.Debug("scheduled ranking done", "spec", spec, "run_id", report.ID, "status", report.Status)
		})
		if err != nil {
			return fmt.Errorf("register ranking job: %w", err)
		}
	}

	return s.driver.Start(ctx)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
