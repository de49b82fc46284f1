package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	webhookService        = "webhook"

	HeaderEvent     = "X-Webhook-Event"
	HeaderSignature = "X-Webhook-Signature"
	HeaderID        = "X-Webhook-ID"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// WebhookClient posts signed event payloads to partner endpoints.
type WebhookClient struct {
	client *resty.Client
}

func NewWebhookClient(timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return &WebhookClient{client: client}
}

func NewWebhookClientWithClient(client *resty.Client) (*WebhookClient, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookClient{client: client}, nil
}

// Send performs one POST. A non-2xx answer returns both the response and a *ProviderError.
func (c *WebhookClient) Send(ctx context.Context, req WebhookRequest) (*ProviderResponse, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("webhook client is not initialized")
	}
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		return nil, &ProviderError{Service: webhookService, Message: "invalid url", Cause: err}
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderEvent, req.Event).
		SetHeader(HeaderSignature, req.Signature).
		SetHeader(HeaderID, req.EndpointID).
		SetHeader(HeaderTimestamp, strconv.FormatInt(req.Timestamp.UnixMilli(), 10)).
		SetBody(req.Body).
		Post(req.URL)
	if err != nil {
		return nil, requestFailed(webhookService, err)
	}
	if response == nil {
		return nil, &ProviderError{Service: webhookService, Message: "empty response", Transient: true}
	}

	resp := &ProviderResponse{
		StatusCode: response.StatusCode(),
		Body:       strings.TrimSpace(response.String()),
		RequestID:  requestID(response),
	}
	if isSuccessStatus(resp.StatusCode) {
		return resp, nil
	}

	return resp, unexpectedStatus(webhookService, resp.StatusCode, resp.Body)
}

func requestID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
