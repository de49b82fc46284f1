package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID             string             `gorm:"type:varchar(36);primaryKey"`
	OwnerID        string             `gorm:"type:varchar(64);not null;index:idx_batches_owner_created,priority:1"`
	TotalCount     int                `gorm:"not null"`
	ProcessedCount int                `gorm:"not null;default:0"`
	SucceededCount int                `gorm:"not null;default:0"`
	FailedCount    int                `gorm:"not null;default:0"`
	Status         domain.BatchStatus `gorm:"type:varchar(20);not null;index"`
	StopOnError    bool               `gorm:"not null;default:false"`
	ValidateOnly   bool               `gorm:"not null;default:false"`
	Concurrency    int                `gorm:"not null;default:0"`
	Units          []domain.OrderUnit `gorm:"type:text;serializer:json;not null"`
	Error          *string            `gorm:"type:text"`
	Version        int                `gorm:"not null;default:1"`
	CreatedAt      time.Time          `gorm:"index:idx_batches_owner_created,priority:2"`
	UpdatedAt      time.Time          `gorm:"autoUpdateTime:false"`
	CompletedAt    *time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// BatchUnitResultModel is one recorded unit outcome; (batch_id, unit_index) is unique.
type BatchUnitResultModel struct {
	BatchID        string  `gorm:"type:varchar(36);primaryKey"`
	UnitIndex      int     `gorm:"primaryKey;autoIncrement:false"`
	Success        bool    `gorm:"not null"`
	OrderID        *string `gorm:"type:varchar(64)"`
	OrderReference *string `gorm:"type:varchar(64)"`
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (BatchUnitResultModel) TableName() string {
	return "batch_unit_results"
}

// EndpointModel is the persistence model for webhook_endpoints.
type EndpointModel struct {
	ID           string   `gorm:"type:varchar(36);primaryKey"`
	OwnerID      string   `gorm:"type:varchar(64);not null;index"`
	URL          string   `gorm:"type:varchar(2048);not null"`
	Events       []string `gorm:"type:text;serializer:json;not null"`
	Secret       string   `gorm:"type:varchar(128);not null"`
	Active       bool     `gorm:"not null"`
	FailureCount int      `gorm:"not null;default:0"`
	Version      int      `gorm:"not null;default:1"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (EndpointModel) TableName() string {
	return "webhook_endpoints"
}

// DeliveryModel is the persistence model for webhook_deliveries.
type DeliveryModel struct {
	ID               string                `gorm:"type:varchar(36);primaryKey"`
	EndpointID       string                `gorm:"type:varchar(36);not null;index:idx_deliveries_endpoint_created,priority:1"`
	OwnerID          string                `gorm:"type:varchar(64);not null"`
	Event            string                `gorm:"type:varchar(128);not null"`
	Payload          string                `gorm:"type:text;not null"`
	Status           domain.DeliveryStatus `gorm:"type:varchar(20);not null;index:idx_deliveries_status_retry,priority:1"`
	AttemptCount     int                   `gorm:"not null;default:0"`
	MaxRetries       int                   `gorm:"not null"`
	LastAttemptAt    *time.Time
	NextRetryAt      *time.Time `gorm:"index:idx_deliveries_status_retry,priority:2"`
	LastStatusCode   *int
	LastResponseBody *string   `gorm:"type:text"`
	LastError        *string   `gorm:"type:text"`
	Version          int       `gorm:"not null;default:1"`
	CreatedAt        time.Time `gorm:"index:idx_deliveries_endpoint_created,priority:2"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
}

func (DeliveryModel) TableName() string {
	return "webhook_deliveries"
}

// PlanModel is the persistence model for plans.
type PlanModel struct {
	ID                    string            `gorm:"type:varchar(36);primaryKey"`
	OwnerID               string            `gorm:"type:varchar(64);not null;index"`
	InstrumentID          string            `gorm:"type:varchar(64);not null"`
	Amount                decimal.Decimal   `gorm:"type:numeric(20,6);not null"`
	Frequency             domain.Frequency  `gorm:"type:varchar(16);not null"`
	StartDate             time.Time         `gorm:"not null"`
	TotalInstallments     int               `gorm:"not null"`
	CompletedInstallments int               `gorm:"not null;default:0"`
	SkippedInstallments   int               `gorm:"not null;default:0"`
	Status                domain.PlanStatus `gorm:"type:varchar(16);not null;index:idx_plans_status_due,priority:1"`
	NextDueDate           *time.Time        `gorm:"index:idx_plans_status_due,priority:2"`
	ConsecutiveFailures   int               `gorm:"not null;default:0"`
	LastOutcome           *string           `gorm:"type:varchar(16)"`
	LastExecutedAt        *time.Time
	TotalInvested         decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	TotalUnits            decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	CurrentValue          decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	Version               int             `gorm:"not null;default:1"`
	CreatedAt             time.Time
	UpdatedAt             time.Time `gorm:"autoUpdateTime:false"`
}

func (PlanModel) TableName() string {
	return "plans"
}

// ExecutionLogModel is an append-only audit row; it is never updated.
type ExecutionLogModel struct {
	ID            string              `gorm:"type:varchar(36);primaryKey"`
	JobID         string              `gorm:"type:varchar(36);not null;index:idx_execution_logs_job,priority:1"`
	JobType       domain.JobType      `gorm:"type:varchar(32);not null;index:idx_execution_logs_job,priority:2"`
	UnitIndex     int                 `gorm:"not null"`
	AttemptNumber int                 `gorm:"not null"`
	Outcome       string              `gorm:"type:varchar(16);not null"`
	Price         decimal.NullDecimal `gorm:"type:numeric(20,6)"`
	Units         decimal.NullDecimal `gorm:"type:numeric(20,6)"`
	OrderID       *string             `gorm:"type:varchar(64)"`
	Error         *string             `gorm:"type:text"`
	CreatedAt     time.Time           `gorm:"index:idx_execution_logs_job,priority:3"`
}

func (ExecutionLogModel) TableName() string {
	return "execution_logs"
}

// AllModels lists every table, in creation order.
func AllModels() []any {
	return []any{
		&BatchModel{},
		&BatchUnitResultModel{},
		&EndpointModel{},
		&DeliveryModel{},
		&PlanModel{},
		&ExecutionLogModel{},
	}
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:             b.ID,
		OwnerID:        b.OwnerID,
		TotalCount:     b.TotalCount,
		ProcessedCount: b.ProcessedCount,
		SucceededCount: b.SucceededCount,
		FailedCount:    b.FailedCount,
		Status:         b.Status,
		StopOnError:    b.Options.StopOnError,
		ValidateOnly:   b.Options.ValidateOnly,
		Concurrency:    b.Options.Concurrency,
		Units:          b.Units,
		Error:          b.Error,
		Version:        b.Version,
		CreatedAt:      utc(b.CreatedAt),
		UpdatedAt:      utc(b.UpdatedAt),
		CompletedAt:    utcPtr(b.CompletedAt),
	}
}

func batchModelToDomain(m *BatchModel, results []BatchUnitResultModel) *domain.Batch {
	if m == nil {
		return nil
	}

	b := &domain.Batch{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		TotalCount:     m.TotalCount,
		ProcessedCount: m.ProcessedCount,
		SucceededCount: m.SucceededCount,
		FailedCount:    m.FailedCount,
		Status:         m.Status,
		Options: domain.BatchOptions{
			StopOnError:  m.StopOnError,
			ValidateOnly: m.ValidateOnly,
			Concurrency:  m.Concurrency,
		},
		Units:       m.Units,
		Error:       m.Error,
		Version:     m.Version,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}
	if len(results) > 0 {
		b.Results = make([]domain.UnitResult, 0, len(results))
		for _, r := range results {
			b.Results = append(b.Results, unitResultModelToDomain(r))
		}
	}
	return b
}

func unitResultModelFromDomain(batchID string, r domain.UnitResult) BatchUnitResultModel {
	return BatchUnitResultModel{
		BatchID:        batchID,
		UnitIndex:      r.Index,
		Success:        r.Success,
		OrderID:        r.OrderID,
		OrderReference: r.OrderReference,
		Error:          r.Error,
		CreatedAt:      utc(r.CreatedAt),
	}
}

func unitResultModelToDomain(m BatchUnitResultModel) domain.UnitResult {
	return domain.UnitResult{
		Index:          m.UnitIndex,
		Success:        m.Success,
		OrderID:        m.OrderID,
		OrderReference: m.OrderReference,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}
}

func endpointModelFromDomain(e *domain.Endpoint) *EndpointModel {
	if e == nil {
		return nil
	}

	return &EndpointModel{
		ID:           e.ID,
		OwnerID:      e.OwnerID,
		URL:          e.URL,
		Events:       e.Events,
		Secret:       e.Secret,
		Active:       e.Active,
		FailureCount: e.FailureCount,
		Version:      e.Version,
		CreatedAt:    utc(e.CreatedAt),
		UpdatedAt:    utc(e.UpdatedAt),
	}
}

func endpointModelToDomain(m *EndpointModel) *domain.Endpoint {
	if m == nil {
		return nil
	}

	return &domain.Endpoint{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		URL:          m.URL,
		Events:       m.Events,
		Secret:       m.Secret,
		Active:       m.Active,
		FailureCount: m.FailureCount,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func deliveryModelFromDomain(d *domain.Delivery) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:               d.ID,
		EndpointID:       d.EndpointID,
		OwnerID:          d.OwnerID,
		Event:            d.Event,
		Payload:          d.Payload,
		Status:           d.Status,
		AttemptCount:     d.AttemptCount,
		MaxRetries:       d.MaxRetries,
		LastAttemptAt:    utcPtr(d.LastAttemptAt),
		NextRetryAt:      utcPtr(d.NextRetryAt),
		LastStatusCode:   d.LastStatusCode,
		LastResponseBody: d.LastResponseBody,
		LastError:        d.LastError,
		Version:          d.Version,
		CreatedAt:        utc(d.CreatedAt),
		UpdatedAt:        utc(d.UpdatedAt),
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:               m.ID,
		EndpointID:       m.EndpointID,
		OwnerID:          m.OwnerID,
		Event:            m.Event,
		Payload:          m.Payload,
		Status:           m.Status,
		AttemptCount:     m.AttemptCount,
		MaxRetries:       m.MaxRetries,
		LastAttemptAt:    m.LastAttemptAt,
		NextRetryAt:      m.NextRetryAt,
		LastStatusCode:   m.LastStatusCode,
		LastResponseBody: m.LastResponseBody,
		LastError:        m.LastError,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func planModelFromDomain(p *domain.Plan) *PlanModel {
	if p == nil {
		return nil
	}

	var lastOutcome *string
	if p.LastOutcome != nil {
		v := p.LastOutcome.String()
		lastOutcome = &v
	}

	return &PlanModel{
		ID:                    p.ID,
		OwnerID:               p.OwnerID,
		InstrumentID:          p.InstrumentID,
		Amount:                p.Amount,
		Frequency:             p.Frequency,
		StartDate:             utc(p.StartDate),
		TotalInstallments:     p.TotalInstallments,
		CompletedInstallments: p.CompletedInstallments,
		SkippedInstallments:   p.SkippedInstallments,
		Status:                p.Status,
		NextDueDate:           utcPtr(p.NextDueDate),
		ConsecutiveFailures:   p.ConsecutiveFailures,
		LastOutcome:           lastOutcome,
		LastExecutedAt:        utcPtr(p.LastExecutedAt),
		TotalInvested:         p.TotalInvested,
		TotalUnits:            p.TotalUnits,
		CurrentValue:          p.CurrentValue,
		Version:               p.Version,
		CreatedAt:             utc(p.CreatedAt),
		UpdatedAt:             utc(p.UpdatedAt),
	}
}

func planModelToDomain(m *PlanModel) *domain.Plan {
	if m == nil {
		return nil
	}

	var lastOutcome *domain.ExecutionOutcome
	if m.LastOutcome != nil {
		v := domain.ExecutionOutcome(*m.LastOutcome)
		lastOutcome = &v
	}

	return &domain.Plan{
		ID:                    m.ID,
		OwnerID:               m.OwnerID,
		InstrumentID:          m.InstrumentID,
		Amount:                m.Amount,
		Frequency:             m.Frequency,
		StartDate:             m.StartDate.UTC(),
		TotalInstallments:     m.TotalInstallments,
		CompletedInstallments: m.CompletedInstallments,
		SkippedInstallments:   m.SkippedInstallments,
		Status:                m.Status,
		NextDueDate:           utcPtr(m.NextDueDate),
		ConsecutiveFailures:   m.ConsecutiveFailures,
		LastOutcome:           lastOutcome,
		LastExecutedAt:        m.LastExecutedAt,
		TotalInvested:         m.TotalInvested,
		TotalUnits:            m.TotalUnits,
		CurrentValue:          m.CurrentValue,
		Version:               m.Version,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func executionLogModelFromDomain(l *domain.ExecutionLog) *ExecutionLogModel {
	if l == nil {
		return nil
	}

	return &ExecutionLogModel{
		ID:            l.ID,
		JobID:         l.JobID,
		JobType:       l.JobType,
		UnitIndex:     l.UnitIndex,
		AttemptNumber: l.AttemptNumber,
		Outcome:       l.Outcome.String(),
		Price:         nullDecimal(l.Price),
		Units:         nullDecimal(l.Units),
		OrderID:       l.OrderID,
		Error:         l.Error,
		CreatedAt:     utc(l.CreatedAt),
	}
}

func executionLogModelToDomain(m *ExecutionLogModel) *domain.ExecutionLog {
	if m == nil {
		return nil
	}

	return &domain.ExecutionLog{
		ID:            m.ID,
		JobID:         m.JobID,
		JobType:       m.JobType,
		UnitIndex:     m.UnitIndex,
		AttemptNumber: m.AttemptNumber,
		Outcome:       domain.ExecutionOutcome(m.Outcome),
		Price:         decimalPtr(m.Price),
		Units:         decimalPtr(m.Units),
		OrderID:       m.OrderID,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}
