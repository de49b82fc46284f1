package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultPlanRunSchedule   = "0 9 * * *"
	defaultPlanRetrySchedule = "0 15 * * *"
	planPassTimeout          = 30 * time.Minute
)

// PlanPasses is the part of PlanScheduler driven by the clock.
type PlanPasses interface {
	ProcessDue(ctx context.Context, date time.Time) (PassSummary, error)
	RetryFailedToday(ctx context.Context) (PassSummary, error)
}

// Scheduler runs the daily plan pass and the afternoon retry pass on cron schedules (UTC).
type Scheduler struct {
	passes PlanPasses
	cron   *cron.Cron
	logger *zap.Logger
	now    func() time.Time

	ctx context.Context
}

func NewScheduler(passes PlanPasses, runSchedule, retrySchedule string, logger *zap.Logger) (*Scheduler, error) {
	if passes == nil {
		return nil, fmt.Errorf("plan passes are required")
	}
	if runSchedule == "" {
		runSchedule = defaultPlanRunSchedule
	}
	if retrySchedule == "" {
		retrySchedule = defaultPlanRetrySchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cronLogger := cronLogAdapter{logger: logger.Sugar()}
	s := &Scheduler{
		passes: passes,
		logger: logger,
		now:    time.Now,
		ctx:    context.Background(),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}

	if _, err := s.cron.AddFunc(runSchedule, s.runDue); err != nil {
		return nil, fmt.Errorf("invalid plan run schedule %q: %w", runSchedule, err)
	}
	if _, err := s.cron.AddFunc(retrySchedule, s.runRetries); err != nil {
		return nil, fmt.Errorf("invalid plan retry schedule %q: %w", retrySchedule, err)
	}
	return s, nil
}

// Start runs the cron until ctx is cancelled, then waits for a running pass to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx

	s.cron.Start()
	s.logger.Info("plan scheduler started", zap.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("plan scheduler stopped")
	return nil
}

func (s *Scheduler) runDue() {
	ctx, cancel := context.WithTimeout(s.ctx, planPassTimeout)
	defer cancel()

	if _, err := s.passes.ProcessDue(ctx, s.now().UTC()); err != nil {
		s.logger.Error("scheduled plan pass failed", zap.Error(err))
	}
}

func (s *Scheduler) runRetries() {
	ctx, cancel := context.WithTimeout(s.ctx, planPassTimeout)
	defer cancel()

	if _, err := s.passes.RetryFailedToday(ctx); err != nil {
		s.logger.Error("scheduled plan retry pass failed", zap.Error(err))
	}
}

// cronLogAdapter routes cron's own logging through zap.
type cronLogAdapter struct {
	logger *zap.SugaredLogger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debugw(msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
