package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobType names the pipeline an execution log entry belongs to.
type JobType string

const (
	JobTypeBatchUnit       JobType = "batch_unit"
	JobTypePlanInstallment JobType = "plan_installment"
)

func (t JobType) String() string { return string(t) }

// ExecutionOutcome is the result of one execution attempt.
type ExecutionOutcome string

const (
	ExecutionOutcomeSuccess ExecutionOutcome = "success"
	ExecutionOutcomeFailure ExecutionOutcome = "failure"
)

func (o ExecutionOutcome) String() string { return string(o) }

// ExecutionLog is an append-only audit entry for one attempt of one unit of work.
type ExecutionLog struct {
	ID            string
	JobID         string
	JobType       JobType
	UnitIndex     int
	AttemptNumber int
	Outcome       ExecutionOutcome
	Price         *decimal.Decimal
	Units         *decimal.Decimal
	OrderID       *string
	Error         *string
	CreatedAt     time.Time
}
