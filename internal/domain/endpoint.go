package domain

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// WildcardEvent subscribes an endpoint to every event.
const WildcardEvent = "*"

// Endpoint is a partner-registered webhook target.
type Endpoint struct {
	ID           string
	OwnerID      string
	URL          string
	Events       []string
	Secret       string
	Active       bool
	FailureCount int
	Version      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subscribes reports whether the endpoint listens for event.
func (e *Endpoint) Subscribes(event string) bool {
	return slices.Contains(e.Events, event) || slices.Contains(e.Events, WildcardEvent)
}

// CheckEligible returns ErrEndpointIneligible unless the endpoint is active and subscribed.
func (e *Endpoint) CheckEligible(event string) error {
	if !e.Active {
		return fmt.Errorf("%w: endpoint %s is inactive", ErrEndpointIneligible, e.ID)
	}
	if !e.Subscribes(event) {
		return fmt.Errorf("%w: endpoint %s is not subscribed to %q", ErrEndpointIneligible, e.ID, event)
	}
	return nil
}

// NormalizeEndpointURL trims and validates an absolute http(s) URL.
func NormalizeEndpointURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: url is required", ErrValidation)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q", ErrValidation, raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: url scheme must be http or https", ErrValidation)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: url host is required", ErrValidation)
	}
	return trimmed, nil
}

// NormalizeEvents trims, dedupes and sorts an event set; it must not be empty.
func NormalizeEvents(events []string) ([]string, error) {
	normalized := make([]string, 0, len(events))
	for _, event := range events {
		event = strings.ToLower(strings.TrimSpace(event))
		if event == "" || slices.Contains(normalized, event) {
			continue
		}
		normalized = append(normalized, event)
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: at least one event is required", ErrValidation)
	}
	slices.Sort(normalized)
	return normalized, nil
}
