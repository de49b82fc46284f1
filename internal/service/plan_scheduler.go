package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/provider"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/repository"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/retry"
	"go.uber.org/zap"
)

// unitsScale matches the precision of stored unit quantities.
const unitsScale = 6

// PlanEnrollment is an owner's request to start a systematic investment plan.
type PlanEnrollment struct {
	OwnerID      string
	InstrumentID string
	Amount       decimal.Decimal
	Frequency    domain.Frequency
	StartDate    time.Time
	Installments int
}

// PassSummary reports one scheduler pass over due plans.
type PassSummary struct {
	Date      time.Time `json:"date"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Errors    int       `json:"errors"`
}

// PlanScheduler runs plan installments on their calendar and handles owner plan actions.
// Writes to one plan are serialized in-process, and versioned in the store.
type PlanScheduler struct {
	plans    repository.PlanRepository
	logs     repository.ExecutionLogRepository
	prices   provider.PriceLookup
	orders   provider.OrderCreator
	notifier *OwnerNotifier
	policy   retry.Policy
	logger   *zap.Logger
	metrics  *observability.Metrics
	locks    *recordLocks
	now      func() time.Time
}

func NewPlanScheduler(
	plans repository.PlanRepository,
	logs repository.ExecutionLogRepository,
	prices provider.PriceLookup,
	orders provider.OrderCreator,
	notifier *OwnerNotifier,
	policy retry.Policy,
	logger *zap.Logger,
) (*PlanScheduler, error) {
	if plans == nil {
		return nil, fmt.Errorf("plan repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("execution log repository is required")
	}
	if prices == nil {
		return nil, fmt.Errorf("price lookup is required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order creator is required")
	}
	if policy.MaxAttempts < 1 {
		policy = retry.NewPolicy(3, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PlanScheduler{
		plans:    plans,
		logs:     logs,
		prices:   prices,
		orders:   orders,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
		locks:    newRecordLocks(),
		now:      time.Now,
	}, nil
}

func (s *PlanScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Enroll creates an active plan whose first installment is due on the start date.
func (s *PlanScheduler) Enroll(ctx context.Context, req PlanEnrollment) (*domain.Plan, error) {
	now := s.now().UTC()
	start := domain.DateOf(req.StartDate)
	plan := &domain.Plan{
		ID:                uuid.NewString(),
		OwnerID:           strings.TrimSpace(req.OwnerID),
		InstrumentID:      strings.TrimSpace(req.InstrumentID),
		Amount:            req.Amount,
		Frequency:         req.Frequency,
		StartDate:         start,
		TotalInstallments: req.Installments,
		Status:            domain.PlanStatusActive,
		NextDueDate:       &start,
		TotalInvested:     decimal.Zero,
		TotalUnits:        decimal.Zero,
		CurrentValue:      decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if start.Before(domain.DateOf(now)) {
		return nil, fmt.Errorf("%w: startDate must not be in the past", domain.ErrValidation)
	}

	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("plan enrolled",
		zap.String("planId", plan.ID),
		zap.String("ownerId", plan.OwnerID),
		zap.String("frequency", plan.Frequency.String()),
		zap.Int("installments", plan.TotalInstallments),
	)
	return plan, nil
}

func (s *PlanScheduler) GetPlan(ctx context.Context, planID, ownerID string) (*domain.Plan, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return plan, nil
}

func (s *PlanScheduler) ListPlans(ctx context.Context, ownerID string) ([]domain.Plan, error) {
	return s.plans.ListByOwner(ctx, ownerID)
}

// ListExecutions returns the plan's installment attempts, oldest first.
func (s *PlanScheduler) ListExecutions(ctx context.Context, planID, ownerID string) ([]domain.ExecutionLog, error) {
	if _, err := s.GetPlan(ctx, planID, ownerID); err != nil {
		return nil, err
	}
	return s.logs.ListByJob(ctx, planID, domain.JobTypePlanInstallment)
}

func (s *PlanScheduler) Pause(ctx context.Context, planID, ownerID string) (*domain.Plan, error) {
	return s.ownerAction(ctx, planID, ownerID, "paused", func(p *domain.Plan) error {
		return p.Pause()
	})
}

func (s *PlanScheduler) Resume(ctx context.Context, planID, ownerID string) (*domain.Plan, error) {
	return s.ownerAction(ctx, planID, ownerID, "resumed", func(p *domain.Plan) error {
		return p.Resume(s.now().UTC())
	})
}

func (s *PlanScheduler) Cancel(ctx context.Context, planID, ownerID string) (*domain.Plan, error) {
	return s.ownerAction(ctx, planID, ownerID, "cancelled", func(p *domain.Plan) error {
		return p.Cancel()
	})
}

func (s *PlanScheduler) ownerAction(ctx context.Context, planID, ownerID, action string, apply func(p *domain.Plan) error) (*domain.Plan, error) {
	unlock := s.locks.Lock(planID)
	defer unlock()

	plan, err := s.GetPlan(ctx, planID, ownerID)
	if err != nil {
		return nil, err
	}
	if err := apply(plan); err != nil {
		return nil, err
	}
	plan.UpdatedAt = s.now().UTC()
	if err := s.plans.Update(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("plan "+action,
		zap.String("planId", plan.ID),
		zap.String("status", plan.Status.String()),
	)
	return plan, nil
}

// GetDueUnits returns active plans due on date.
func (s *PlanScheduler) GetDueUnits(ctx context.Context, date time.Time) ([]domain.Plan, error) {
	return s.plans.ListDue(ctx, date)
}

// ExecuteOne runs the current installment of an active, due plan and returns its log entry.
// A failed installment is not an error; errors mean the plan could not be run or saved.
func (s *PlanScheduler) ExecuteOne(ctx context.Context, planID string) (*domain.ExecutionLog, error) {
	unlock := s.locks.Lock(planID)
	defer unlock()

	// Reload under the lock: a pass may hold a copy older than an owner's pause.
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != domain.PlanStatusActive || plan.NextDueDate == nil {
		return nil, fmt.Errorf("%w: plan %s is %s", domain.ErrConflict, plan.ID, plan.Status)
	}
	today := domain.DateOf(s.now().UTC())
	if plan.NextDueDate.After(today) {
		return nil, fmt.Errorf("%w: plan %s is not due until %s", domain.ErrConflict, plan.ID, plan.NextDueDate.Format(time.DateOnly))
	}

	s.metrics.IncInFlight(observability.PipelinePlan)
	defer s.metrics.DecInFlight(observability.PipelinePlan)

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("planId", plan.ID))
	entry := &domain.ExecutionLog{
		ID:            uuid.NewString(),
		JobID:         plan.ID,
		JobType:       domain.JobTypePlanInstallment,
		UnitIndex:     plan.CompletedInstallments + 1,
		AttemptNumber: plan.ConsecutiveFailures + 1,
	}

	ref, execErr := s.runInstallment(ctx, plan, today, entry)
	at := s.now().UTC()
	entry.CreatedAt = at

	if execErr == nil {
		return entry, s.completeInstallment(ctx, plan, entry, ref, at, logger)
	}
	return entry, s.failInstallment(ctx, plan, entry, execErr, at, logger)
}

// runInstallment prices the instrument and places the order, filling price and units on entry.
func (s *PlanScheduler) runInstallment(ctx context.Context, plan *domain.Plan, today time.Time, entry *domain.ExecutionLog) (ref *domain.OrderRef, err error) {
	defer func() {
		if r := recover(); r != nil {
			ref = nil
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()

	price, err := s.prices.GetPrice(ctx, plan.InstrumentID, today)
	if err != nil {
		return nil, fmt.Errorf("price lookup failed: %w", err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("price lookup returned non-positive price %s", price)
	}
	units := plan.Amount.DivRound(price, unitsScale)
	entry.Price = &price
	entry.Units = &units

	ref, err = s.orders.CreateOrder(ctx, plan.OwnerID, domain.OrderUnit{
		ClientID:        plan.OwnerID,
		ProductID:       plan.InstrumentID,
		Amount:          plan.Amount,
		TransactionMode: domain.TransactionModeSIP,
	})
	if err != nil {
		return nil, fmt.Errorf("order creation failed: %w", err)
	}
	if ref == nil {
		return nil, errors.New("order creation returned no order")
	}
	return ref, nil
}

func (s *PlanScheduler) completeInstallment(
	ctx context.Context,
	plan *domain.Plan,
	entry *domain.ExecutionLog,
	ref *domain.OrderRef,
	at time.Time,
	logger *zap.Logger,
) error {
	completed, err := plan.RecordSuccess(*entry.Units, *entry.Price, at)
	if err != nil {
		return err
	}
	entry.Outcome = domain.ExecutionOutcomeSuccess
	entry.OrderID = stringPtr(ref.ID)

	if err := s.save(ctx, plan, entry, at); err != nil {
		logger.Error("order placed but plan could not be saved",
			zap.String("orderId", ref.ID),
			zap.Error(err),
		)
		return err
	}
	s.metrics.IncPlanExecution(true)

	logger.Info("plan installment executed",
		zap.Int("installment", entry.UnitIndex),
		zap.String("orderId", ref.ID),
		zap.Bool("completed", completed),
	)
	s.notifier.PlanExecuted(ctx, plan, entry, ref.Reference)
	if completed {
		s.notifier.PlanCompleted(ctx, plan)
	}
	return nil
}

func (s *PlanScheduler) failInstallment(
	ctx context.Context,
	plan *domain.Plan,
	entry *domain.ExecutionLog,
	execErr error,
	at time.Time,
	logger *zap.Logger,
) error {
	exhausted, err := plan.RecordFailure(s.policy.MaxAttempts, at)
	if err != nil {
		return err
	}
	entry.Outcome = domain.ExecutionOutcomeFailure
	entry.Error = stringPtr(execErr.Error())

	if err := s.save(ctx, plan, entry, at); err != nil {
		return err
	}
	s.metrics.IncPlanExecution(false)
	if !exhausted {
		s.metrics.IncRetryScheduled(observability.PipelinePlan)
	}

	logger.Warn("plan installment failed",
		zap.Int("installment", entry.UnitIndex),
		zap.Int("consecutiveFailures", plan.ConsecutiveFailures),
		zap.Bool("planFailed", exhausted),
		zap.Error(execErr),
	)
	s.notifier.PlanFailed(ctx, plan, execErr.Error(), plan.RetriesLeft(s.policy.MaxAttempts))
	return nil
}

func (s *PlanScheduler) save(ctx context.Context, plan *domain.Plan, entry *domain.ExecutionLog, at time.Time) error {
	plan.UpdatedAt = at
	if err := s.plans.Update(ctx, plan); err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return nil
}

// ProcessDue executes every plan due on date, plus plans still carrying a failed installment
// from an earlier day. One plan failing never stops the others.
func (s *PlanScheduler) ProcessDue(ctx context.Context, date time.Time) (PassSummary, error) {
	day := domain.DateOf(date)
	due, err := s.GetDueUnits(ctx, day)
	if err != nil {
		return PassSummary{Date: day}, fmt.Errorf("failed to list due plans: %w", err)
	}
	carried, err := s.plans.ListFailedDue(ctx, day, s.policy.MaxAttempts)
	if err != nil {
		return PassSummary{Date: day}, fmt.Errorf("failed to list failed plans: %w", err)
	}

	seen := make(map[string]struct{}, len(due))
	for _, p := range due {
		seen[p.ID] = struct{}{}
	}
	for _, p := range carried {
		if _, ok := seen[p.ID]; !ok {
			due = append(due, p)
		}
	}
	return s.executeAll(ctx, day, due), nil
}

// RetryFailedToday re-attempts plans due today or earlier whose last attempt failed with budget left.
func (s *PlanScheduler) RetryFailedToday(ctx context.Context) (PassSummary, error) {
	today := domain.DateOf(s.now().UTC())
	failed, err := s.plans.ListFailedDue(ctx, today, s.policy.MaxAttempts)
	if err != nil {
		return PassSummary{Date: today}, fmt.Errorf("failed to list failed plans: %w", err)
	}
	return s.executeAll(ctx, today, failed), nil
}

func (s *PlanScheduler) executeAll(ctx context.Context, date time.Time, plans []domain.Plan) PassSummary {
	summary := PassSummary{Date: date}
	for i := range plans {
		if ctx.Err() != nil {
			break
		}
		summary.Attempted++

		entry, err := s.ExecuteOne(ctx, plans[i].ID)
		switch {
		case err != nil:
			summary.Errors++
			s.logger.Error("plan execution aborted",
				zap.String("planId", plans[i].ID),
				zap.Error(err),
			)
		case entry.Outcome == domain.ExecutionOutcomeSuccess:
			summary.Succeeded++
		default:
			summary.Failed++
		}
	}

	s.logger.Info("plan pass finished",
		zap.String("date", date.Format(time.DateOnly)),
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", summary.Errors),
	)
	return summary
}
