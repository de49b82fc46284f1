package domain

import (
	"fmt"
	"time"
)

// BatchStatus represents the processing state of a batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusPartial    BatchStatus = "partial"
	BatchStatusFailed     BatchStatus = "failed"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusPartial, BatchStatusFailed:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusPartial, BatchStatusFailed:
		return true
	}
	return false
}

// BatchOptions controls how a batch is processed.
type BatchOptions struct {
	StopOnError  bool `json:"stopOnError"`
	ValidateOnly bool `json:"validateOnly"`
	// Concurrency above 1 runs units in parallel. Ignored when StopOnError is set.
	Concurrency int `json:"concurrency,omitempty"`
}

// UnitResult is the recorded outcome of one unit, keyed by its submission index.
type UnitResult struct {
	Index          int
	Success        bool
	OrderID        *string
	OrderReference *string
	Error          *string
	CreatedAt      time.Time
}

// Batch groups order units submitted together.
type Batch struct {
	ID             string
	OwnerID        string
	TotalCount     int
	ProcessedCount int
	SucceededCount int
	FailedCount    int
	Status         BatchStatus
	Options        BatchOptions
	Units          []OrderUnit
	Results        []UnitResult
	Error          *string
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// NextIndex is the index of the first unit without a recorded result.
func (b *Batch) NextIndex() int {
	return len(b.Results)
}

// Record appends a unit result and bumps the counters.
func (b *Batch) Record(result UnitResult) error {
	if b.Status.IsTerminal() {
		return fmt.Errorf("%w: batch %s is already %s", ErrConflict, b.ID, b.Status)
	}
	if result.Index != b.NextIndex() {
		return fmt.Errorf("%w: unit index %d recorded out of order (next %d)", ErrConflict, result.Index, b.NextIndex())
	}
	if b.ProcessedCount >= b.TotalCount {
		return fmt.Errorf("%w: batch %s has no units left", ErrConflict, b.ID)
	}

	b.Results = append(b.Results, result)
	b.ProcessedCount++
	if result.Success {
		b.SucceededCount++
	} else {
		b.FailedCount++
	}
	return nil
}

// Finish moves the batch to the status derived from its counters.
func (b *Batch) Finish(now time.Time) {
	b.Status = DeriveBatchStatus(b.SucceededCount, b.FailedCount)
	b.CompletedAt = &now
}

// Halt stops the batch after a failing unit under stop-on-error.
func (b *Batch) Halt(index int, now time.Time) {
	reason := fmt.Sprintf("processing stopped on error at unit index %d", index)
	b.Status = BatchStatusFailed
	b.Error = &reason
	b.CompletedAt = &now
}

// DeriveBatchStatus maps final counters to a terminal status.
func DeriveBatchStatus(succeeded, failed int) BatchStatus {
	switch {
	case failed == 0:
		return BatchStatusCompleted
	case succeeded > 0:
		return BatchStatusPartial
	default:
		return BatchStatusFailed
	}
}
