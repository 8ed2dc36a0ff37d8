package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules are the cron specs for each job. An empty spec disables the job.
type Schedules struct {
	OTPPurge          string
	SettlementSweep   string
	NotificationFlush string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
	}
}

// Register adds the jobs to the cron table. It fails on the first invalid schedule.
func (s *Scheduler) Register(sched Schedules) error {
	for _, entry := range []struct {
		name string
		spec string
		fn   func()
	}{
		{"otp purge", sched.OTPPurge, s.jobs.PurgeExpiredOTPs},
		{"settlement sweep", sched.SettlementSweep, s.jobs.SweepStaleSettlements},
		{"notification flush", sched.NotificationFlush, s.jobs.FlushNotifications},
	} {
		if entry.spec == "" {
			s.logger.Info("job disabled", "job", entry.name)
			continue
		}
		if _, err := s.cron.AddFunc(entry.spec, entry.fn); err != nil {
			return fmt.Errorf("schedule %s job: %w", entry.name, err)
		}
		s.logger.Info("scheduled job", "job", entry.name, "schedule", entry.spec)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
