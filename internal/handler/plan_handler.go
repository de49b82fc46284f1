package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/service"
)

type PlanService interface {
	Enroll(ctx context.Context, req service.PlanEnrollment) (*domain.Plan, error)
	GetPlan(ctx context.Context, planID, ownerID string) (*domain.Plan, error)
	ListPlans(ctx context.Context, ownerID string) ([]domain.Plan, error)
	ListExecutions(ctx context.Context, planID, ownerID string) ([]domain.ExecutionLog, error)
	Pause(ctx context.Context, planID, ownerID string) (*domain.Plan, error)
	Resume(ctx context.Context, planID, ownerID string) (*domain.Plan, error)
	Cancel(ctx context.Context, planID, ownerID string) (*domain.Plan, error)
	ProcessDue(ctx context.Context, date time.Time) (service.PassSummary, error)
}

type PlanHandler struct {
	service PlanService
}

func NewPlanHandler(service PlanService) (*PlanHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("plan service is required")
	}
	return &PlanHandler{service: service}, nil
}

func RegisterPlanRoutes(router fiber.Router, service PlanService) error {
	h, err := NewPlanHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/plans", h.Enroll)
	v1.Get("/plans", h.ListPlans)
	v1.Get("/plans/:id", h.GetPlan)
	v1.Get("/plans/:id/executions", h.ListExecutions)
	v1.Post("/plans/:id/pause", h.Pause)
	v1.Post("/plans/:id/resume", h.Resume)
	v1.Post("/plans/:id/cancel", h.Cancel)
	// Operator hook for re-running a missed pass.
	v1.Post("/admin/plan-passes", h.RunPass)
	return nil
}

type enrollRequest struct {
	InstrumentID string          `json:"instrumentId"`
	Amount       decimal.Decimal `json:"amount"`
	Frequency    string          `json:"frequency"`
	StartDate    string          `json:"startDate"`
	Installments int             `json:"installments"`
}

type runPassRequest struct {
	Date string `json:"date"`
}

type planResponse struct {
	ID                    string     `json:"id"`
	InstrumentID          string     `json:"instrumentId"`
	Amount                string     `json:"amount"`
	Frequency             string     `json:"frequency"`
	StartDate             string     `json:"startDate"`
	Status                string     `json:"status"`
	TotalInstallments     int        `json:"totalInstallments"`
	CompletedInstallments int        `json:"completedInstallments"`
	NextDueDate           *string    `json:"nextDueDate"`
	ConsecutiveFailures   int        `json:"consecutiveFailures"`
	LastExecutedAt        *time.Time `json:"lastExecutedAt,omitempty"`
	TotalInvested         string     `json:"totalInvested"`
	TotalUnits            string     `json:"totalUnits"`
	CurrentValue          string     `json:"currentValue"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

type executionResponse struct {
	ID            string    `json:"id"`
	Installment   int       `json:"installment"`
	AttemptNumber int       `json:"attemptNumber"`
	Outcome       string    `json:"outcome"`
	Price         *string   `json:"price,omitempty"`
	Units         *string   `json:"units,omitempty"`
	OrderID       *string   `json:"orderId,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (h *PlanHandler) Enroll(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	var req enrollRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	frequency, err := domain.ParseFrequencyFromString(req.Frequency)
	if err != nil {
		return err
	}
	startDate, err := parseDate(req.StartDate, "startDate")
	if err != nil {
		return err
	}

	plan, err := h.service.Enroll(c.UserContext(), service.PlanEnrollment{
		OwnerID:      owner,
		InstrumentID: req.InstrumentID,
		Amount:       req.Amount,
		Frequency:    frequency,
		StartDate:    startDate,
		Installments: req.Installments,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toPlanResponse(plan))
}

func (h *PlanHandler) ListPlans(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	plans, err := h.service.ListPlans(c.UserContext(), owner)
	if err != nil {
		return err
	}
	data := make([]planResponse, 0, len(plans))
	for i := range plans {
		data = append(data, toPlanResponse(&plans[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *PlanHandler) GetPlan(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	plan, err := h.service.GetPlan(c.UserContext(), pathID(c), owner)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toPlanResponse(plan))
}

func (h *PlanHandler) ListExecutions(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	entries, err := h.service.ListExecutions(c.UserContext(), pathID(c), owner)
	if err != nil {
		return err
	}
	data := make([]executionResponse, 0, len(entries))
	for _, e := range entries {
		data = append(data, toExecutionResponse(e))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *PlanHandler) Pause(c *fiber.Ctx) error {
	return h.ownerAction(c, h.service.Pause)
}

func (h *PlanHandler) Resume(c *fiber.Ctx) error {
	return h.ownerAction(c, h.service.Resume)
}

func (h *PlanHandler) Cancel(c *fiber.Ctx) error {
	return h.ownerAction(c, h.service.Cancel)
}

func (h *PlanHandler) ownerAction(c *fiber.Ctx, action func(ctx context.Context, planID, ownerID string) (*domain.Plan, error)) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	plan, err := action(c.UserContext(), pathID(c), owner)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toPlanResponse(plan))
}

// RunPass executes plans due on the given date (default today, UTC).
func (h *PlanHandler) RunPass(c *fiber.Ctx) error {
	var req runPassRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}

	date := time.Now().UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := parseDate(req.Date, "date")
		if err != nil {
			return err
		}
		date = parsed
	}

	summary, err := h.service.ProcessDue(c.UserContext(), date)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

func parseDate(value, field string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}
	t, err := time.Parse(time.DateOnly, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrValidation, field)
	}
	return t, nil
}

func toPlanResponse(p *domain.Plan) planResponse {
	resp := planResponse{
		ID:                    p.ID,
		InstrumentID:          p.InstrumentID,
		Amount:                p.Amount.StringFixed(2),
		Frequency:             p.Frequency.String(),
		StartDate:             p.StartDate.Format(time.DateOnly),
		Status:                p.Status.String(),
		TotalInstallments:     p.TotalInstallments,
		CompletedInstallments: p.CompletedInstallments,
		ConsecutiveFailures:   p.ConsecutiveFailures,
		LastExecutedAt:        p.LastExecutedAt,
		TotalInvested:         p.TotalInvested.StringFixed(2),
		TotalUnits:            p.TotalUnits.String(),
		CurrentValue:          p.CurrentValue.StringFixed(2),
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
	if p.NextDueDate != nil {
		next := p.NextDueDate.Format(time.DateOnly)
		resp.NextDueDate = &next
	}
	return resp
}

func toExecutionResponse(e domain.ExecutionLog) executionResponse {
	resp := executionResponse{
		ID:            e.ID,
		Installment:   e.UnitIndex,
		AttemptNumber: e.AttemptNumber,
		Outcome:       e.Outcome.String(),
		OrderID:       e.OrderID,
		Error:         e.Error,
		CreatedAt:     e.CreatedAt,
	}
	if e.Price != nil {
		price := e.Price.String()
		resp.Price = &price
	}
	if e.Units != nil {
		units := e.Units.String()
		resp.Units = &units
	}
	return resp
}
