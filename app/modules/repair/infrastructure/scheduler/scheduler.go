package repairscheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	repairservice "github.com/Black-And-White-Club/avery/app/modules/repair/application"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Config holds the cron expression and the zone it is read in.
type Config struct {
	Schedule string
	Timezone string
}

// Scheduler runs the repair sweep on a cron schedule. A sweep that is still
// running when the next one is due makes the next one skip.
type Scheduler struct {
	scheduler gocron.Scheduler
	job       gocron.Job
	service   repairservice.Service
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewScheduler(cfg Config, service repairservice.Service, logger *slog.Logger) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{scheduler: sched, service: service, logger: logger, ctx: ctx, cancel: cancel}

	s.job, err = sched.NewJob(
		gocron.CronJob(cfg.Schedule, false),
		gocron.NewTask(s.run),
		gocron.WithName("repair-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to schedule repair sweep %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx := attr.WithCorrelationID(s.ctx, uuid.NewString())
	start := time.Now()
	report, err := s.service.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Repair sweep finished with errors",
			attr.Int("resubmitted", report.Resubmitted()),
			attr.Duration("took", time.Since(start)),
			attr.ExtractCorrelationID(ctx),
			attr.Error(err),
		)
		return
	}
	s.logger.InfoContext(ctx, "Repair sweep completed",
		attr.Int("resubmitted", report.Resubmitted()),
		attr.Int("expired_tasks", report.ExpiredTasks),
		attr.Duration("took", time.Since(start)),
		attr.ExtractCorrelationID(ctx),
	)
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	if next, err := s.job.NextRun(); err == nil {
		s.logger.Info("Repair scheduler started", attr.Time("next_run", next))
	}
}

// RunNow triggers a sweep outside the schedule.
func (s *Scheduler) RunNow() error {
	return s.job.RunNow()
}

// NextRun reports when the sweep runs next.
func (s *Scheduler) NextRun() (time.Time, error) {
	return s.job.NextRun()
}

// Stop cancels a running sweep and waits for the scheduler to wind down.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}
