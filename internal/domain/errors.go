package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrMaxRetriesExceeded is returned when a retry is requested after the budget is spent.
	// It is terminal: callers must not retry on it.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	ErrEndpointIneligible = errors.New("endpoint is not eligible for event")
)
