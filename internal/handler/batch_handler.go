package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
)

type BatchService interface {
	Submit(ctx context.Context, ownerID string, units []domain.OrderUnit, opts domain.BatchOptions) (*domain.Batch, error)
	GetBatch(ctx context.Context, batchID, ownerID string) (*domain.Batch, error)
	ListBatches(ctx context.Context, ownerID string, limit int) ([]domain.Batch, error)
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.SubmitBatch)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:id", h.GetBatch)
	return nil
}

type submitBatchRequest struct {
	Units   []domain.OrderUnit  `json:"units"`
	Options domain.BatchOptions `json:"options"`
}

type unitResultResponse struct {
	Index          int     `json:"index"`
	Success        bool    `json:"success"`
	OrderID        *string `json:"orderId,omitempty"`
	OrderReference *string `json:"orderReference,omitempty"`
	Error          *string `json:"error,omitempty"`
}

type batchSummary struct {
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Errors    []unitResultResponse `json:"errors"`
}

type batchResponse struct {
	ID             string               `json:"id"`
	Status         string               `json:"status"`
	TotalCount     int                  `json:"totalCount"`
	ProcessedCount int                  `json:"processedCount"`
	Options        domain.BatchOptions  `json:"options"`
	Summary        batchSummary         `json:"summary"`
	Results        []unitResultResponse `json:"results"`
	Error          *string              `json:"error,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
	CompletedAt    *time.Time           `json:"completedAt,omitempty"`
}

func (h *BatchHandler) SubmitBatch(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	var req submitBatchRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	batch, err := h.service.Submit(c.UserContext(), owner, req.Units, req.Options)
	if err != nil {
		return err
	}

	c.Location("/v1/batches/" + batch.ID)
	return c.Status(fiber.StatusAccepted).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	batch, err := h.service.GetBatch(c.UserContext(), strings.TrimSpace(c.Params("id")), owner)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}

	batches, err := h.service.ListBatches(c.UserContext(), owner, limit)
	if err != nil {
		return err
	}

	data := make([]batchResponse, 0, len(batches))
	for i := range batches {
		data = append(data, toBatchResponse(&batches[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func toBatchResponse(b *domain.Batch) batchResponse {
	resp := batchResponse{
		ID:             b.ID,
		Status:         b.Status.String(),
		TotalCount:     b.TotalCount,
		ProcessedCount: b.ProcessedCount,
		Options:        b.Options,
		Summary: batchSummary{
			Succeeded: b.SucceededCount,
			Failed:    b.FailedCount,
			Errors:    []unitResultResponse{},
		},
		Results:     make([]unitResultResponse, 0, len(b.Results)),
		Error:       b.Error,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
		CompletedAt: b.CompletedAt,
	}

	for _, r := range b.Results {
		item := unitResultResponse{
			Index:          r.Index,
			Success:        r.Success,
			OrderID:        r.OrderID,
			OrderReference: r.OrderReference,
			Error:          r.Error,
		}
		resp.Results = append(resp.Results, item)
		if !r.Success {
			resp.Summary.Errors = append(resp.Summary.Errors, item)
		}
	}
	return resp
}
