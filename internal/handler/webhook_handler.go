package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/service"
)

type WebhookService interface {
	RegisterEndpoint(ctx context.Context, ownerID, rawURL string, events []string, secret string) (*domain.Endpoint, error)
	GetEndpoint(ctx context.Context, endpointID, ownerID string) (*domain.Endpoint, error)
	UpdateEndpoint(ctx context.Context, endpointID, ownerID string, update service.EndpointUpdate) (*domain.Endpoint, error)
	DeleteEndpoint(ctx context.Context, endpointID, ownerID string) error
	ListEndpoints(ctx context.Context, ownerID string) ([]domain.Endpoint, error)
	SendTestEvent(ctx context.Context, endpointID, ownerID string) (*domain.Delivery, error)
	TriggerForOwner(ctx context.Context, ownerID, event string, payload any) (int, error)
	RetryDelivery(ctx context.Context, deliveryID, ownerID string, maxRetries int) (*domain.Delivery, error)
	RetryFailedDeliveries(ctx context.Context, endpointID, ownerID string, maxRetries int) ([]domain.Delivery, error)
	GetDelivery(ctx context.Context, deliveryID, ownerID string) (*domain.Delivery, error)
	ListDeliveries(ctx context.Context, endpointID, ownerID string, limit int) ([]domain.Delivery, error)
}

type WebhookHandler struct {
	service WebhookService
}

func NewWebhookHandler(service WebhookService) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("webhook service is required")
	}
	return &WebhookHandler{service: service}, nil
}

func RegisterWebhookRoutes(router fiber.Router, service WebhookService) error {
	h, err := NewWebhookHandler(service)
	if err != nil {
		return err
	}

	webhooks := router.Group("/v1/webhooks")
	webhooks.Post("/endpoints", h.RegisterEndpoint)
	webhooks.Get("/endpoints", h.ListEndpoints)
	webhooks.Get("/endpoints/:id", h.GetEndpoint)
	webhooks.Patch("/endpoints/:id", h.UpdateEndpoint)
	webhooks.Delete("/endpoints/:id", h.DeleteEndpoint)
	webhooks.Post("/endpoints/:id/test", h.SendTestEvent)
	webhooks.Get("/endpoints/:id/deliveries", h.ListDeliveries)
	webhooks.Post("/endpoints/:id/retry-failed", h.RetryFailedDeliveries)
	webhooks.Get("/deliveries/:id", h.GetDelivery)
	webhooks.Post("/deliveries/:id/retry", h.RetryDelivery)
	webhooks.Post("/events", h.TriggerEvent)
	return nil
}

type registerEndpointRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type updateEndpointRequest struct {
	URL    *string  `json:"url"`
	Events []string `json:"events"`
	Active *bool    `json:"active"`
}

type retryRequest struct {
	MaxRetries int `json:"maxRetries"`
}

type triggerEventRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type endpointResponse struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Events       []string  `json:"events"`
	Active       bool      `json:"active"`
	FailureCount int       `json:"failureCount"`
	Secret       string    `json:"secret,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type deliveryResponse struct {
	ID               string     `json:"id"`
	EndpointID       string     `json:"endpointId"`
	Event            string     `json:"event"`
	Status           string     `json:"status"`
	AttemptCount     int        `json:"attemptCount"`
	MaxRetries       int        `json:"maxRetries"`
	LastAttemptAt    *time.Time `json:"lastAttemptAt,omitempty"`
	NextRetryAt      *time.Time `json:"nextRetryAt,omitempty"`
	LastStatusCode   *int       `json:"lastStatusCode,omitempty"`
	LastResponseBody *string    `json:"lastResponseBody,omitempty"`
	LastError        *string    `json:"lastError,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// RegisterEndpoint is the only response that carries the signing secret.
func (h *WebhookHandler) RegisterEndpoint(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	var req registerEndpointRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	endpoint, err := h.service.RegisterEndpoint(c.UserContext(), owner, req.URL, req.Events, req.Secret)
	if err != nil {
		return err
	}

	resp := toEndpointResponse(endpoint)
	resp.Secret = endpoint.Secret
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *WebhookHandler) ListEndpoints(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	endpoints, err := h.service.ListEndpoints(c.UserContext(), owner)
	if err != nil {
		return err
	}
	data := make([]endpointResponse, 0, len(endpoints))
	for i := range endpoints {
		data = append(data, toEndpointResponse(&endpoints[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *WebhookHandler) GetEndpoint(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	endpoint, err := h.service.GetEndpoint(c.UserContext(), pathID(c), owner)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toEndpointResponse(endpoint))
}

func (h *WebhookHandler) UpdateEndpoint(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	var req updateEndpointRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	endpoint, err := h.service.UpdateEndpoint(c.UserContext(), pathID(c), owner, service.EndpointUpdate{
		URL:    req.URL,
		Events: req.Events,
		Active: req.Active,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toEndpointResponse(endpoint))
}

func (h *WebhookHandler) DeleteEndpoint(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	if err := h.service.DeleteEndpoint(c.UserContext(), pathID(c), owner); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *WebhookHandler) SendTestEvent(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	delivery, err := h.service.SendTestEvent(c.UserContext(), pathID(c), owner)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(delivery))
}

func (h *WebhookHandler) ListDeliveries(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}

	deliveries, err := h.service.ListDeliveries(c.UserContext(), pathID(c), owner, limit)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": toDeliveryResponses(deliveries)})
}

func (h *WebhookHandler) RetryFailedDeliveries(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	req, err := parseRetryRequest(c)
	if err != nil {
		return err
	}

	retried, err := h.service.RetryFailedDeliveries(c.UserContext(), pathID(c), owner, req.MaxRetries)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"retried": len(retried),
		"data":    toDeliveryResponses(retried),
	})
}

func (h *WebhookHandler) GetDelivery(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	delivery, err := h.service.GetDelivery(c.UserContext(), pathID(c), owner)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(delivery))
}

func (h *WebhookHandler) RetryDelivery(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	req, err := parseRetryRequest(c)
	if err != nil {
		return err
	}

	delivery, err := h.service.RetryDelivery(c.UserContext(), pathID(c), owner, req.MaxRetries)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(delivery))
}

// TriggerEvent fans an event out to the caller's endpoints without waiting for delivery.
func (h *WebhookHandler) TriggerEvent(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	var req triggerEventRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}

	started, err := h.service.TriggerForOwner(c.UserContext(), owner, req.Event, req.Payload)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event":      strings.ToLower(strings.TrimSpace(req.Event)),
		"deliveries": started,
	})
}

// parseRetryRequest accepts an empty body; zero maxRetries means the configured default.
func parseRetryRequest(c *fiber.Ctx) (retryRequest, error) {
	var req retryRequest
	if len(c.Body()) == 0 {
		return req, nil
	}
	if err := parseBody(c, &req); err != nil {
		return req, err
	}
	if req.MaxRetries < 0 {
		return req, fmt.Errorf("%w: maxRetries must not be negative", domain.ErrValidation)
	}
	return req, nil
}

func pathID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("id"))
}

func toEndpointResponse(e *domain.Endpoint) endpointResponse {
	return endpointResponse{
		ID:           e.ID,
		URL:          e.URL,
		Events:       e.Events,
		Active:       e.Active,
		FailureCount: e.FailureCount,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func toDeliveryResponses(deliveries []domain.Delivery) []deliveryResponse {
	out := make([]deliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		out = append(out, toDeliveryResponse(&deliveries[i]))
	}
	return out
}

func toDeliveryResponse(d *domain.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:               d.ID,
		EndpointID:       d.EndpointID,
		Event:            d.Event,
		Status:           d.Status.String(),
		AttemptCount:     d.AttemptCount,
		MaxRetries:       d.MaxRetries,
		LastAttemptAt:    d.LastAttemptAt,
		NextRetryAt:      d.NextRetryAt,
		LastStatusCode:   d.LastStatusCode,
		LastResponseBody: d.LastResponseBody,
		LastError:        d.LastError,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}
