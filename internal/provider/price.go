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
)

type priceResponse struct {
	InstrumentID string          `json:"instrumentId"`
	Price        decimal.Decimal `json:"price"`
	Date         string          `json:"date"`
}

// PriceClient looks up instrument prices from the pricing service. Caching is the service's concern.
type PriceClient struct {
	client  *resty.Client
	baseURL string
}

func NewPriceClient(baseURL string) (*PriceClient, error) {
	client := resty.New()
	client.SetTimeout(defaultServiceTimeout)
	client.SetRetryCount(0)

	return NewPriceClientWithClient(baseURL, client)
}

func NewPriceClientWithClient(baseURL string, client *resty.Client) (*PriceClient, error) {
	trimmed, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("price service: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	client.SetRetryCount(0)

	return &PriceClient{client: client, baseURL: trimmed}, nil
}

func (c *PriceClient) GetPrice(ctx context.Context, instrumentID string, date time.Time) (decimal.Decimal, error) {
	instrumentID = strings.TrimSpace(instrumentID)
	if instrumentID == "" {
		return decimal.Zero, fmt.Errorf("instrument id is required")
	}

	req := c.client.R().SetContext(ctx)
	if !date.IsZero() {
		req.SetQueryParam("date", date.UTC().Format(time.DateOnly))
	}

	response, err := req.Get(c.baseURL + "/v1/prices/" + url.PathEscape(instrumentID))
	if err != nil {
		return decimal.Zero, requestFailed(priceService, err)
	}

	if !isSuccessStatus(response.StatusCode()) {
		return decimal.Zero, unexpectedStatus(priceService, response.StatusCode(), strings.TrimSpace(response.String()))
	}

	var quote priceResponse
	if err := json.Unmarshal(response.Body(), &quote); err != nil {
		return decimal.Zero, &ProviderError{Service: priceService, StatusCode: response.StatusCode(), Message: "invalid price response", Cause: err}
	}
	if !quote.Price.IsPositive() {
		return decimal.Zero, &ProviderError{
			Service:    priceService,
			StatusCode: response.StatusCode(),
			Message:    fmt.Sprintf("non-positive price %s for %s", quote.Price, instrumentID),
		}
	}

	return quote.Price, nil
}
