package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
)

// WebhookSender issues one signed webhook POST.
type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) (*ProviderResponse, error)
}

// OrderCreator places an order with the order service.
type OrderCreator interface {
	CreateOrder(ctx context.Context, ownerID string, unit domain.OrderUnit) (*domain.OrderRef, error)
}

// PriceLookup returns the instrument price (NAV) for a date.
type PriceLookup interface {
	GetPrice(ctx context.Context, instrumentID string, date time.Time) (decimal.Decimal, error)
}

// MessageSender hands a templated message to the notification channel.
type MessageSender interface {
	SendMessage(ctx context.Context, msg Message) error
}

// WebhookRequest is the fully prepared outbound call; Body is sent as-is and Signature covers it.
type WebhookRequest struct {
	URL        string
	EndpointID string
	Event      string
	Signature  string
	Timestamp  time.Time
	Body       []byte
}

// ProviderResponse stores call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	RequestID  string
}

// Channel is the medium an owner notification is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) String() string { return string(c) }

// Message is a templated owner notification.
type Message struct {
	Recipient string
	Template  string
	Channel   Channel
	Data      map[string]string
}
