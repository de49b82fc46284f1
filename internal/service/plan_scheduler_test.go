package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/retry"
	"go.uber.org/zap"
)

var planToday = time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

func duePlan(id string, freq domain.Frequency, start time.Time, total, completed int) domain.Plan {
	next := domain.DueDate(start, freq, completed)
	return domain.Plan{
		ID:                    id,
		OwnerID:               "owner-1",
		InstrumentID:          "INF-001",
		Amount:                decimal.NewFromInt(1000),
		Frequency:             freq,
		StartDate:             start,
		TotalInstallments:     total,
		CompletedInstallments: completed,
		Status:                domain.PlanStatusActive,
		NextDueDate:           &next,
		TotalInvested:         decimal.NewFromInt(int64(completed) * 1000),
		TotalUnits:            decimal.NewFromInt(int64(completed) * 20),
		CurrentValue:          decimal.NewFromInt(int64(completed) * 1000),
		Version:               1,
	}
}

type schedulerFixture struct {
	scheduler *PlanScheduler
	plans     *fakePlanRepo
	logs      *fakeExecutionLogRepo
	prices    *fakePriceLookup
	orders    *fakeOrderCreator
	messages  *fakeMessageSender
}

func newSchedulerFixture(t *testing.T, today time.Time, plans ...domain.Plan) *schedulerFixture {
	t.Helper()

	f := &schedulerFixture{
		plans:    newFakePlanRepo(plans...),
		logs:     &fakeExecutionLogRepo{},
		prices:   &fakePriceLookup{},
		orders:   &fakeOrderCreator{},
		messages: &fakeMessageSender{},
	}
	scheduler, err := NewPlanScheduler(f.plans, f.logs, f.prices, f.orders, NewOwnerNotifier(f.messages, nil),
		retry.NewPolicy(3, time.Second, time.Minute), zap.NewNop())
	if err != nil {
		t.Fatalf("NewPlanScheduler() error = %v", err)
	}
	scheduler.now = fixedClock(today.Add(9 * time.Hour))
	f.scheduler = scheduler
	return f
}

func TestNewPlanSchedulerValidation(t *testing.T) {
	t.Parallel()

	plans, logs, prices, orders := newFakePlanRepo(), &fakeExecutionLogRepo{}, &fakePriceLookup{}, &fakeOrderCreator{}
	if _, err := NewPlanScheduler(nil, logs, prices, orders, nil, retry.Policy{}, nil); err == nil {
		t.Fatal("expected error when plan repository is nil")
	}
	if _, err := NewPlanScheduler(plans, nil, prices, orders, nil, retry.Policy{}, nil); err == nil {
		t.Fatal("expected error when execution log repository is nil")
	}
	if _, err := NewPlanScheduler(plans, logs, nil, orders, nil, retry.Policy{}, nil); err == nil {
		t.Fatal("expected error when price lookup is nil")
	}
	if _, err := NewPlanScheduler(plans, logs, prices, nil, nil, retry.Policy{}, nil); err == nil {
		t.Fatal("expected error when order creator is nil")
	}
}

func TestPlanSchedulerEnroll(t *testing.T) {
	t.Parallel()

	valid := PlanEnrollment{
		OwnerID:      "owner-1",
		InstrumentID: "INF-001",
		Amount:       decimal.NewFromInt(5000),
		Frequency:    domain.FrequencyMonthly,
		StartDate:    planToday.AddDate(0, 0, 3),
		Installments: 12,
	}

	tests := []struct {
		name    string
		mutate  func(r *PlanEnrollment)
		wantErr error
	}{
		{name: "valid", mutate: func(*PlanEnrollment) {}},
		{name: "starts today", mutate: func(r *PlanEnrollment) { r.StartDate = planToday }},
		{name: "past start date", mutate: func(r *PlanEnrollment) { r.StartDate = planToday.AddDate(0, 0, -1) }, wantErr: domain.ErrValidation},
		{name: "zero amount", mutate: func(r *PlanEnrollment) { r.Amount = decimal.Zero }, wantErr: domain.ErrValidation},
		{name: "unknown frequency", mutate: func(r *PlanEnrollment) { r.Frequency = "YEARLY" }, wantErr: domain.ErrValidation},
		{name: "no installments", mutate: func(r *PlanEnrollment) { r.Installments = 0 }, wantErr: domain.ErrValidation},
		{name: "missing instrument", mutate: func(r *PlanEnrollment) { r.InstrumentID = " " }, wantErr: domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newSchedulerFixture(t, planToday)
			req := valid
			tt.mutate(&req)

			plan, err := f.scheduler.Enroll(context.Background(), req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Enroll() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Enroll() error = %v", err)
			}
			if plan.Status != domain.PlanStatusActive || plan.NextDueDate == nil || !plan.NextDueDate.Equal(domain.DateOf(req.StartDate)) {
				t.Fatalf("plan = %s due %v, want active and due on the start date", plan.Status, plan.NextDueDate)
			}
			if _, err := f.plans.GetByID(context.Background(), plan.ID); err != nil {
				t.Fatalf("plan was not stored: %v", err)
			}
		})
	}
}

func TestPlanSchedulerExecuteOneCompletesFinalInstallment(t *testing.T) {
	t.Parallel()

	plan := duePlan("plan-1", domain.FrequencyMonthly, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC), 12, 11)
	f := newSchedulerFixture(t, planToday, plan)

	entry, err := f.scheduler.ExecuteOne(context.Background(), "plan-1")
	if err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	if entry.Outcome != domain.ExecutionOutcomeSuccess || entry.UnitIndex != 12 || entry.AttemptNumber != 1 {
		t.Fatalf("entry = %s installment %d attempt %d, want success 12/1", entry.Outcome, entry.UnitIndex, entry.AttemptNumber)
	}
	if entry.Units == nil || !entry.Units.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("units = %v, want 20", entry.Units)
	}
	if entry.OrderID == nil || *entry.OrderID != "ord-1" {
		t.Fatalf("order id = %v, want ord-1", entry.OrderID)
	}

	stored := f.plans.get("plan-1")
	if stored.Status != domain.PlanStatusCompleted || stored.NextDueDate != nil || stored.CompletedInstallments != 12 {
		t.Fatalf("plan = %s completed %d next %v, want completed 12 with no next date", stored.Status, stored.CompletedInstallments, stored.NextDueDate)
	}
	if !stored.TotalInvested.Equal(decimal.NewFromInt(12000)) {
		t.Fatalf("total invested = %s, want 12000", stored.TotalInvested)
	}

	templates := f.messages.templates()
	if len(templates) != 2 || templates[0] != TemplatePlanExecuted || templates[1] != TemplatePlanCompleted {
		t.Fatalf("notifications = %v, want success then completion", templates)
	}
	if logs := f.logs.all(); len(logs) != 1 || logs[0].JobType != domain.JobTypePlanInstallment {
		t.Fatalf("execution logs = %+v, want one installment entry", logs)
	}
}

func TestPlanSchedulerExecuteOneFailsAfterMaxFailures(t *testing.T) {
	t.Parallel()

	plan := duePlan("plan-1", domain.FrequencyMonthly, time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC), 12, 3)
	f := newSchedulerFixture(t, planToday, plan)
	f.orders.createFn = func(context.Context, string, domain.OrderUnit) (*domain.OrderRef, error) {
		return nil, errors.New("order service unavailable")
	}

	for attempt := 1; attempt <= 3; attempt++ {
		entry, err := f.scheduler.ExecuteOne(context.Background(), "plan-1")
		if err != nil {
			t.Fatalf("attempt %d: ExecuteOne() error = %v", attempt, err)
		}
		if entry.Outcome != domain.ExecutionOutcomeFailure || entry.AttemptNumber != attempt || entry.UnitIndex != 4 {
			t.Fatalf("attempt %d: entry = %s installment %d attempt %d", attempt, entry.Outcome, entry.UnitIndex, entry.AttemptNumber)
		}

		stored := f.plans.get("plan-1")
		if stored.ConsecutiveFailures != attempt {
			t.Fatalf("attempt %d: consecutive failures = %d", attempt, stored.ConsecutiveFailures)
		}
		if attempt < 3 && (stored.Status != domain.PlanStatusActive || stored.NextDueDate == nil || !stored.NextDueDate.Equal(planToday)) {
			t.Fatalf("attempt %d: plan = %s due %v, want active and still due today", attempt, stored.Status, stored.NextDueDate)
		}
	}

	stored := f.plans.get("plan-1")
	if stored.Status != domain.PlanStatusFailed || stored.NextDueDate != nil {
		t.Fatalf("plan = %s due %v, want failed with no next date", stored.Status, stored.NextDueDate)
	}
	if stored.CompletedInstallments != 3 {
		t.Fatalf("completed installments = %d, want unchanged 3", stored.CompletedInstallments)
	}

	messages := f.messages.sentMessages()
	if len(messages) != 3 {
		t.Fatalf("notifications = %d, want 3", len(messages))
	}
	if got := messages[0].Data["message"]; got != planRetryMessage {
		t.Fatalf("first failure message = %q, want retry wording", got)
	}
	last := messages[2]
	if last.Template != TemplatePlanFailed || last.Data["message"] != planSupportMessage || last.Data["retriesLeft"] != "0" {
		t.Fatalf("final notification = %+v, want support wording with no retries left", last)
	}

	if _, err := f.scheduler.ExecuteOne(context.Background(), "plan-1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ExecuteOne(failed plan) error = %v, want ErrConflict", err)
	}
}

func TestPlanSchedulerNextDueDateDoesNotDrift(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		freq      domain.Frequency
		start     time.Time
		completed int
		wantNext  time.Time
	}{
		{
			name:      "month end start clamps then recovers",
			freq:      domain.FrequencyMonthly,
			start:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
			completed: 1,
			wantNext:  time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "quarterly",
			freq:      domain.FrequencyQuarterly,
			start:     time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC),
			completed: 1,
			wantNext:  time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly",
			freq:      domain.FrequencyWeekly,
			start:     time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
			completed: 0,
			wantNext:  time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			plan := duePlan("plan-1", tt.freq, tt.start, 12, tt.completed)
			f := newSchedulerFixture(t, *plan.NextDueDate, plan)

			if _, err := f.scheduler.ExecuteOne(context.Background(), "plan-1"); err != nil {
				t.Fatalf("ExecuteOne() error = %v", err)
			}
			stored := f.plans.get("plan-1")
			if stored.NextDueDate == nil || !stored.NextDueDate.Equal(tt.wantNext) {
				t.Fatalf("next due = %v, want %s", stored.NextDueDate, tt.wantNext.Format(time.DateOnly))
			}
		})
	}
}

func TestPlanSchedulerExecuteOneRejectsNotDuePlans(t *testing.T) {
	t.Parallel()

	future := duePlan("plan-future", domain.FrequencyMonthly, planToday.AddDate(0, 0, 2), 6, 0)
	paused := duePlan("plan-paused", domain.FrequencyMonthly, planToday, 6, 0)
	paused.Status = domain.PlanStatusPaused

	f := newSchedulerFixture(t, planToday, future, paused)
	for _, id := range []string{"plan-future", "plan-paused"} {
		if _, err := f.scheduler.ExecuteOne(context.Background(), id); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("ExecuteOne(%s) error = %v, want ErrConflict", id, err)
		}
	}
	if _, err := f.scheduler.ExecuteOne(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ExecuteOne(missing) error = %v, want ErrNotFound", err)
	}
	if f.orders.callCount() != 0 {
		t.Fatal("no order should be placed for a plan that is not due")
	}
}

func TestPlanSchedulerOwnerActions(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)
	f := newSchedulerFixture(t, planToday, duePlan("plan-1", domain.FrequencyWeekly, start, 10, 1))
	ctx := context.Background()

	if _, err := f.scheduler.Pause(ctx, "plan-1", "owner-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Pause(other owner) error = %v, want ErrNotFound", err)
	}
	if _, err := f.scheduler.Resume(ctx, "plan-1", "owner-1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Resume(active) error = %v, want ErrConflict", err)
	}

	paused, err := f.scheduler.Pause(ctx, "plan-1", "owner-1")
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if paused.Status != domain.PlanStatusPaused {
		t.Fatalf("status = %s, want paused", paused.Status)
	}
	if _, err := f.scheduler.Pause(ctx, "plan-1", "owner-1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Pause(paused) error = %v, want ErrConflict", err)
	}

	// Three weekly slots (Feb 12, 19, 26) passed while paused.
	resumed, err := f.scheduler.Resume(ctx, "plan-1", "owner-1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.SkippedInstallments != 3 || resumed.NextDueDate == nil || !resumed.NextDueDate.Equal(planToday) {
		t.Fatalf("resumed plan skipped %d next %v, want 3 skipped and due today", resumed.SkippedInstallments, resumed.NextDueDate)
	}

	cancelled, err := f.scheduler.Cancel(ctx, "plan-1", "owner-1")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != domain.PlanStatusCancelled || cancelled.NextDueDate != nil {
		t.Fatalf("cancelled plan = %s next %v", cancelled.Status, cancelled.NextDueDate)
	}
	if _, err := f.scheduler.Cancel(ctx, "plan-1", "owner-1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Cancel(cancelled) error = %v, want ErrConflict", err)
	}
}

func TestPlanSchedulerProcessDueIsolatesFailures(t *testing.T) {
	t.Parallel()

	ok := duePlan("plan-a", domain.FrequencyMonthly, planToday, 6, 0)
	badPrice := duePlan("plan-b", domain.FrequencyMonthly, planToday, 6, 0)
	badPrice.InstrumentID = "NO-PRICE"
	panics := duePlan("plan-c", domain.FrequencyMonthly, planToday, 6, 0)
	panics.InstrumentID = "PANIC"
	later := duePlan("plan-d", domain.FrequencyMonthly, planToday.AddDate(0, 0, 1), 6, 0)

	f := newSchedulerFixture(t, planToday, ok, badPrice, panics, later)
	f.prices.getPriceFn = func(_ context.Context, instrumentID string, _ time.Time) (decimal.Decimal, error) {
		if instrumentID == "NO-PRICE" {
			return decimal.Zero, errors.New("no nav published")
		}
		return decimal.NewFromInt(40), nil
	}
	f.orders.createFn = func(_ context.Context, _ string, unit domain.OrderUnit) (*domain.OrderRef, error) {
		if unit.ProductID == "PANIC" {
			panic("order client crashed")
		}
		if unit.TransactionMode != domain.TransactionModeSIP {
			t.Errorf("transaction mode = %s, want SIP", unit.TransactionMode)
		}
		return &domain.OrderRef{ID: "ord-" + unit.ProductID, Reference: "REF"}, nil
	}

	summary, err := f.scheduler.ProcessDue(context.Background(), planToday)
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if !summary.Date.Equal(planToday) || summary.Attempted != 3 || summary.Succeeded != 1 || summary.Failed != 2 || summary.Errors != 0 {
		t.Fatalf("summary = %+v, want 3 attempted with 1 success and 2 failures", summary)
	}

	if got := f.plans.get("plan-a"); got.CompletedInstallments != 1 || !got.TotalUnits.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("plan-a completed %d units %s, want 1 and 25", got.CompletedInstallments, got.TotalUnits)
	}
	for _, id := range []string{"plan-b", "plan-c"} {
		if got := f.plans.get(id); got.ConsecutiveFailures != 1 || got.Status != domain.PlanStatusActive {
			t.Fatalf("%s = %s with %d failures, want active with 1", id, got.Status, got.ConsecutiveFailures)
		}
	}
	if got := f.plans.get("plan-d"); got.Version != 1 {
		t.Fatal("plan not due today must not be touched")
	}
}

func TestPlanSchedulerRetryFailedToday(t *testing.T) {
	t.Parallel()

	failure := domain.ExecutionOutcomeFailure
	retryable := duePlan("plan-retry", domain.FrequencyMonthly, planToday, 6, 0)
	retryable.ConsecutiveFailures = 1
	retryable.LastOutcome = &failure
	untouched := duePlan("plan-fresh", domain.FrequencyMonthly, planToday, 6, 0)

	f := newSchedulerFixture(t, planToday, retryable, untouched)

	summary, err := f.scheduler.RetryFailedToday(context.Background())
	if err != nil {
		t.Fatalf("RetryFailedToday() error = %v", err)
	}
	if summary.Attempted != 1 || summary.Succeeded != 1 {
		t.Fatalf("summary = %+v, want one successful retry", summary)
	}

	got := f.plans.get("plan-retry")
	if got.ConsecutiveFailures != 0 || got.CompletedInstallments != 1 {
		t.Fatalf("plan-retry failures %d completed %d, want 0 and 1", got.ConsecutiveFailures, got.CompletedInstallments)
	}
	logs := f.logs.all()
	if len(logs) != 1 || logs[0].AttemptNumber != 2 {
		t.Fatalf("execution logs = %+v, want the second attempt only", logs)
	}
	if f.plans.get("plan-fresh").Version != 1 {
		t.Fatal("plan without a failed attempt must wait for the regular pass")
	}
}

func TestPlanSchedulerCarriesFailedInstallmentAcrossDays(t *testing.T) {
	t.Parallel()

	plan := duePlan("plan-1", domain.FrequencyMonthly, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), 12, 2)
	f := newSchedulerFixture(t, planToday, plan)
	f.prices.getPriceFn = func(context.Context, string, time.Time) (decimal.Decimal, error) {
		return decimal.Zero, errors.New("price service unavailable")
	}
	ctx := context.Background()
	nextDay := planToday.AddDate(0, 0, 1)

	if summary, err := f.scheduler.ProcessDue(ctx, planToday); err != nil || summary.Failed != 1 {
		t.Fatalf("ProcessDue(day 1) = %+v, %v; want one failure", summary, err)
	}
	f.scheduler.now = fixedClock(planToday.Add(15 * time.Hour))
	if summary, err := f.scheduler.RetryFailedToday(ctx); err != nil || summary.Failed != 1 {
		t.Fatalf("RetryFailedToday(day 1) = %+v, %v; want one failure", summary, err)
	}

	f.scheduler.now = fixedClock(nextDay.Add(9 * time.Hour))
	summary, err := f.scheduler.ProcessDue(ctx, nextDay)
	if err != nil {
		t.Fatalf("ProcessDue(day 2) error = %v", err)
	}
	if summary.Attempted != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want the carried installment attempted", summary)
	}

	stored := f.plans.get("plan-1")
	if stored.Status != domain.PlanStatusFailed || stored.ConsecutiveFailures != 3 || stored.NextDueDate != nil {
		t.Fatalf("plan = %s with %d failures due %v, want failed after 3", stored.Status, stored.ConsecutiveFailures, stored.NextDueDate)
	}

	f.scheduler.now = fixedClock(nextDay.Add(15 * time.Hour))
	if summary, err := f.scheduler.RetryFailedToday(ctx); err != nil || summary.Attempted != 0 {
		t.Fatalf("RetryFailedToday(day 2) = %+v, %v; want nothing left to retry", summary, err)
	}
}

func TestPlanSchedulerRetryFailedTodayPicksOverduePlans(t *testing.T) {
	t.Parallel()

	failure := domain.ExecutionOutcomeFailure
	overdue := duePlan("plan-overdue", domain.FrequencyMonthly, planToday.AddDate(0, 0, -2), 6, 0)
	overdue.ConsecutiveFailures = 2
	overdue.LastOutcome = &failure
	f := newSchedulerFixture(t, planToday, overdue)

	summary, err := f.scheduler.RetryFailedToday(context.Background())
	if err != nil {
		t.Fatalf("RetryFailedToday() error = %v", err)
	}
	if summary.Attempted != 1 || summary.Succeeded != 1 {
		t.Fatalf("summary = %+v, want the overdue plan retried", summary)
	}
	got := f.plans.get("plan-overdue")
	if got.CompletedInstallments != 1 || got.ConsecutiveFailures != 0 {
		t.Fatalf("plan completed %d failures %d, want 1 and 0", got.CompletedInstallments, got.ConsecutiveFailures)
	}
	want := domain.DueDate(overdue.StartDate, domain.FrequencyMonthly, 1)
	if got.NextDueDate == nil || !got.NextDueDate.Equal(want) {
		t.Fatalf("next due = %v, want %v anchored on start date", got.NextDueDate, want)
	}
}
