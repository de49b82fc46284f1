package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
)

const (
	defaultServiceTimeout = 15 * time.Second

	orderService = "order service"
	priceService = "price service"
)

type createOrderRequest struct {
	OwnerID         string          `json:"ownerId"`
	ClientID        string          `json:"clientId"`
	ProductID       string          `json:"productId"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionMode string          `json:"transactionMode"`
	FolioNumber     string          `json:"folioNumber,omitempty"`
}

type createOrderResponse struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
}

// OrderClient creates orders through the order service REST API.
type OrderClient struct {
	client  *resty.Client
	baseURL string
}

func NewOrderClient(baseURL string) (*OrderClient, error) {
	client := resty.New()
	client.SetTimeout(defaultServiceTimeout)
	client.SetRetryCount(0)

	return NewOrderClientWithClient(baseURL, client)
}

func NewOrderClientWithClient(baseURL string, client *resty.Client) (*OrderClient, error) {
	trimmed, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	client.SetRetryCount(0)

	return &OrderClient{client: client, baseURL: trimmed}, nil
}

func (c *OrderClient) CreateOrder(ctx context.Context, ownerID string, unit domain.OrderUnit) (*domain.OrderRef, error) {
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(createOrderRequest{
			OwnerID:         ownerID,
			ClientID:        unit.ClientID,
			ProductID:       unit.ProductID,
			Amount:          unit.Amount,
			TransactionMode: unit.TransactionMode.String(),
			FolioNumber:     unit.FolioNumber,
		}).
		Post(c.baseURL + "/v1/orders")
	if err != nil {
		return nil, requestFailed(orderService, err)
	}

	body := strings.TrimSpace(response.String())
	if !isSuccessStatus(response.StatusCode()) {
		return nil, unexpectedStatus(orderService, response.StatusCode(), body)
	}

	var created createOrderResponse
	if err := json.Unmarshal(response.Body(), &created); err != nil {
		return nil, &ProviderError{Service: orderService, StatusCode: response.StatusCode(), Message: "invalid order response", Cause: err}
	}
	if strings.TrimSpace(created.ID) == "" {
		return nil, &ProviderError{Service: orderService, StatusCode: response.StatusCode(), Message: "order response missing id"}
	}

	return &domain.OrderRef{ID: created.ID, Reference: created.Reference}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", fmt.Errorf("base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	return trimmed, nil
}
