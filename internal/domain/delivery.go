package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// DeliveryStatus represents the lifecycle state of a webhook delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
)

// MaxResponseBodyLength caps the stored response body (in runes).
const MaxResponseBodyLength = 1000

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusRetrying:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusRetrying:
		return next == DeliveryStatusDelivered || next == DeliveryStatusFailed || next == DeliveryStatusRetrying
	case DeliveryStatusFailed:
		// Only an explicit retry reopens a failed delivery.
		return next == DeliveryStatusRetrying
	}
	return false
}

// Delivery is one webhook notification for one endpoint and event, with its attempt history.
type Delivery struct {
	ID               string
	EndpointID       string
	OwnerID          string
	Event            string
	Payload          string
	Status           DeliveryStatus
	AttemptCount     int
	MaxRetries       int
	LastAttemptAt    *time.Time
	NextRetryAt      *time.Time
	LastStatusCode   *int
	LastResponseBody *string
	LastError        *string
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsTerminal reports whether the record may no longer change.
func (d *Delivery) IsTerminal() bool {
	if d.Status == DeliveryStatusDelivered {
		return true
	}
	return d.Status == DeliveryStatusFailed && d.AttemptCount >= d.MaxRetries
}

// CheckRetryable validates a manual retry against maxRetries.
func (d *Delivery) CheckRetryable(maxRetries int) error {
	if d.Status != DeliveryStatusFailed {
		return fmt.Errorf("%w: delivery %s is %s, only failed deliveries can be retried", ErrConflict, d.ID, d.Status)
	}
	if d.AttemptCount >= maxRetries {
		return fmt.Errorf("%w: delivery %s used %d of %d attempts", ErrMaxRetriesExceeded, d.ID, d.AttemptCount, maxRetries)
	}
	return nil
}

// Transition moves the delivery to next, rejecting backward moves.
func (d *Delivery) Transition(next DeliveryStatus) error {
	if !d.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: delivery %s cannot move from %s to %s", ErrConflict, d.ID, d.Status, next)
	}
	d.Status = next
	return nil
}

// TruncateBody shortens a response body to MaxResponseBodyLength runes.
func TruncateBody(body string) string {
	if utf8.RuneCountInString(body) <= MaxResponseBodyLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:MaxResponseBodyLength])
}
