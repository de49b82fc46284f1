package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/provider"
)

// NotificationMessage asks the notification service to deliver a templated message.
type NotificationMessage struct {
	ID            string            `json:"id"`
	Recipient     string            `json:"recipient"`
	Template      string            `json:"template"`
	Channel       provider.Channel  `json:"channel"`
	Data          map[string]string `json:"data,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

func (m NotificationMessage) Validate() error {
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(m.Template) == "" {
		return fmt.Errorf("template is required")
	}
	switch m.Channel {
	case provider.ChannelEmail, provider.ChannelSMS:
	default:
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}

// EventMessage is a domain event raised elsewhere in the system for an owner.
type EventMessage struct {
	ID            string          `json:"id,omitempty"`
	OwnerID       string          `json:"ownerId"`
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func (m EventMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("ownerId is required")
	}
	if strings.TrimSpace(m.Event) == "" {
		return fmt.Errorf("event is required")
	}
	if len(m.Payload) == 0 || !json.Valid(m.Payload) {
		return fmt.Errorf("payload must be valid JSON")
	}
	return nil
}
