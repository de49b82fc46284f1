package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestDeliveryStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{from: DeliveryStatusPending, to: DeliveryStatusDelivered, want: true},
		{from: DeliveryStatusPending, to: DeliveryStatusFailed, want: true},
		{from: DeliveryStatusPending, to: DeliveryStatusRetrying, want: true},
		{from: DeliveryStatusRetrying, to: DeliveryStatusDelivered, want: true},
		{from: DeliveryStatusRetrying, to: DeliveryStatusRetrying, want: true},
		{from: DeliveryStatusFailed, to: DeliveryStatusRetrying, want: true},
		{from: DeliveryStatusFailed, to: DeliveryStatusDelivered, want: false},
		{from: DeliveryStatusDelivered, to: DeliveryStatusFailed, want: false},
		{from: DeliveryStatusDelivered, to: DeliveryStatusRetrying, want: false},
		{from: DeliveryStatusRetrying, to: DeliveryStatusPending, want: false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Fatalf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDeliveryCheckRetryable(t *testing.T) {
	t.Parallel()

	d := &Delivery{ID: "d1", Status: DeliveryStatusFailed, AttemptCount: 2, MaxRetries: 3}
	if err := d.CheckRetryable(3); err != nil {
		t.Fatalf("CheckRetryable() error = %v", err)
	}

	d.AttemptCount = 3
	if err := d.CheckRetryable(3); !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("CheckRetryable() error = %v, want ErrMaxRetriesExceeded", err)
	}
	if !d.IsTerminal() {
		t.Fatal("exhausted failed delivery should be terminal")
	}
	if d.AttemptCount != 3 {
		t.Fatalf("attempt count mutated to %d", d.AttemptCount)
	}

	delivered := &Delivery{ID: "d2", Status: DeliveryStatusDelivered, AttemptCount: 1}
	if err := delivered.CheckRetryable(5); !errors.Is(err, ErrConflict) {
		t.Fatalf("CheckRetryable() on delivered error = %v, want ErrConflict", err)
	}
	if err := delivered.Transition(DeliveryStatusRetrying); !errors.Is(err, ErrConflict) {
		t.Fatalf("Transition() on delivered error = %v, want ErrConflict", err)
	}
}

func TestTruncateBody(t *testing.T) {
	t.Parallel()

	short := "ok"
	if got := TruncateBody(short); got != short {
		t.Fatalf("TruncateBody(%q) = %q", short, got)
	}

	long := strings.Repeat("é", MaxResponseBodyLength+10)
	got := TruncateBody(long)
	if len([]rune(got)) != MaxResponseBodyLength {
		t.Fatalf("len(TruncateBody()) = %d runes, want %d", len([]rune(got)), MaxResponseBodyLength)
	}
}
