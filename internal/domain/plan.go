package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is the installment cadence of a plan.
type Frequency string

const (
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
)

func (f Frequency) String() string { return string(f) }

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly:
		return true
	}
	return false
}

func ParseFrequencyFromString(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("%w: invalid frequency %q", ErrValidation, s)
	}
	return f, nil
}

// PlanStatus represents the lifecycle state of a recurring plan.
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "ACTIVE"
	PlanStatusPaused    PlanStatus = "PAUSED"
	PlanStatusCancelled PlanStatus = "CANCELLED"
	PlanStatusCompleted PlanStatus = "COMPLETED"
	PlanStatusFailed    PlanStatus = "FAILED"
)

func (s PlanStatus) String() string { return string(s) }

func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusActive, PlanStatusPaused, PlanStatusCancelled, PlanStatusCompleted, PlanStatusFailed:
		return true
	}
	return false
}

func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusCancelled, PlanStatusCompleted, PlanStatusFailed:
		return true
	}
	return false
}

func ParsePlanStatusFromString(s string) (PlanStatus, error) {
	st := PlanStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid plan status %q", ErrValidation, s)
	}
	return st, nil
}

// Plan is a systematic investment plan executed on a fixed calendar.
type Plan struct {
	ID                    string
	OwnerID               string
	InstrumentID          string
	Amount                decimal.Decimal
	Frequency             Frequency
	StartDate             time.Time
	TotalInstallments     int
	CompletedInstallments int
	// SkippedInstallments counts calendar slots passed over while paused. The next due
	// date is always StartDate plus (completed+skipped) intervals.
	SkippedInstallments int
	Status              PlanStatus
	NextDueDate         *time.Time
	ConsecutiveFailures int
	LastOutcome         *ExecutionOutcome
	LastExecutedAt      *time.Time
	TotalInvested       decimal.Decimal
	TotalUnits          decimal.Decimal
	CurrentValue        decimal.Decimal
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Validate checks the enrollment fields.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.OwnerID) == "" {
		return fmt.Errorf("%w: ownerId is required", ErrValidation)
	}
	if strings.TrimSpace(p.InstrumentID) == "" {
		return fmt.Errorf("%w: instrumentId is required", ErrValidation)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	if !p.Frequency.IsValid() {
		return fmt.Errorf("%w: invalid frequency %q", ErrValidation, p.Frequency)
	}
	if p.TotalInstallments < 1 {
		return fmt.Errorf("%w: installments must be at least 1", ErrValidation)
	}
	if p.StartDate.IsZero() {
		return fmt.Errorf("%w: startDate is required", ErrValidation)
	}
	return nil
}

// Scheduled returns the due date of the slot-th installment slot (0-based), anchored on StartDate.
func (p *Plan) Scheduled(slot int) time.Time {
	return DueDate(p.StartDate, p.Frequency, slot)
}

// RecordSuccess applies a successful installment and returns true when the plan just completed.
func (p *Plan) RecordSuccess(units, price decimal.Decimal, at time.Time) (bool, error) {
	if p.Status != PlanStatusActive {
		return false, fmt.Errorf("%w: plan %s is %s", ErrConflict, p.ID, p.Status)
	}

	p.CompletedInstallments++
	p.TotalInvested = p.TotalInvested.Add(p.Amount)
	p.TotalUnits = p.TotalUnits.Add(units)
	p.CurrentValue = p.TotalUnits.Mul(price)
	p.ConsecutiveFailures = 0
	p.markExecuted(ExecutionOutcomeSuccess, at)

	if p.CompletedInstallments >= p.TotalInstallments {
		p.Status = PlanStatusCompleted
		p.NextDueDate = nil
		return true, nil
	}

	next := p.Scheduled(p.CompletedInstallments + p.SkippedInstallments)
	p.NextDueDate = &next
	return false, nil
}

// RecordFailure applies a failed installment and returns true when the failure budget is spent.
// The due date is kept so the next pass retries the same installment.
func (p *Plan) RecordFailure(maxFailures int, at time.Time) (bool, error) {
	if p.Status != PlanStatusActive {
		return false, fmt.Errorf("%w: plan %s is %s", ErrConflict, p.ID, p.Status)
	}

	if p.ConsecutiveFailures < maxFailures {
		p.ConsecutiveFailures++
	}
	p.markExecuted(ExecutionOutcomeFailure, at)

	if p.ConsecutiveFailures >= maxFailures {
		p.Status = PlanStatusFailed
		p.NextDueDate = nil
		return true, nil
	}
	return false, nil
}

// Pause stops scheduling without losing the calendar.
func (p *Plan) Pause() error {
	if p.Status != PlanStatusActive {
		return fmt.Errorf("%w: only active plans can be paused (status %s)", ErrConflict, p.Status)
	}
	p.Status = PlanStatusPaused
	return nil
}

// Resume reactivates a paused plan on the first calendar slot on or after today.
func (p *Plan) Resume(today time.Time) error {
	if p.Status != PlanStatusPaused {
		return fmt.Errorf("%w: only paused plans can be resumed (status %s)", ErrConflict, p.Status)
	}

	today = DateOf(today)
	for p.Scheduled(p.CompletedInstallments + p.SkippedInstallments).Before(today) {
		p.SkippedInstallments++
	}
	next := p.Scheduled(p.CompletedInstallments + p.SkippedInstallments)
	p.NextDueDate = &next
	p.Status = PlanStatusActive
	return nil
}

// Cancel ends the plan at the owner's request.
func (p *Plan) Cancel() error {
	if p.Status.IsTerminal() {
		return fmt.Errorf("%w: plan %s is already %s", ErrConflict, p.ID, p.Status)
	}
	p.Status = PlanStatusCancelled
	p.NextDueDate = nil
	return nil
}

// RetriesLeft reports how many consecutive failures remain before the plan fails.
func (p *Plan) RetriesLeft(maxFailures int) int {
	return max(maxFailures-p.ConsecutiveFailures, 0)
}

func (p *Plan) markExecuted(outcome ExecutionOutcome, at time.Time) {
	p.LastOutcome = &outcome
	p.LastExecutedAt = &at
}

// DueDate returns start advanced by n intervals of freq. Month arithmetic clamps to the
// last day of the target month, so a plan started on the 31st stays on month ends.
func DueDate(start time.Time, freq Frequency, n int) time.Time {
	start = DateOf(start)
	switch freq {
	case FrequencyDaily:
		return start.AddDate(0, 0, n)
	case FrequencyWeekly:
		return start.AddDate(0, 0, 7*n)
	case FrequencyMonthly:
		return addMonthsClamped(start, n)
	case FrequencyQuarterly:
		return addMonthsClamped(start, 3*n)
	}
	return start
}

// DateOf truncates t to midnight UTC of its calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func addMonthsClamped(start time.Time, months int) time.Time {
	y, m, d := start.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), min(d, lastDay), 0, 0, 0, 0, time.UTC)
}
