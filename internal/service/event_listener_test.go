package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/queue"
	"go.uber.org/zap"
)

type fakeEventTrigger struct {
	triggerFn func(ctx context.Context, ownerID, event string, payload any) (int, error)
}

func (f *fakeEventTrigger) TriggerForOwner(ctx context.Context, ownerID, event string, payload any) (int, error) {
	if f.triggerFn != nil {
		return f.triggerFn(ctx, ownerID, event, payload)
	}
	return 1, nil
}

func TestNewEventListenerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewEventListener(nil, &fakeEventTrigger{}, 1, zap.NewNop()); err == nil {
		t.Fatal("expected error when consumer is nil")
	}
	if _, err := NewEventListener(&fakeConsumer{}, nil, 1, zap.NewNop()); err == nil {
		t.Fatal("expected error when trigger is nil")
	}

	listener, err := NewEventListener(&fakeConsumer{}, &fakeEventTrigger{}, 0, nil)
	if err != nil {
		t.Fatalf("NewEventListener() error = %v", err)
	}
	if listener.concurrency != 1 {
		t.Fatalf("concurrency = %d, want 1", listener.concurrency)
	}
}

func TestEventListenerHandleEventTriggersFanOut(t *testing.T) {
	t.Parallel()

	var gotOwner, gotEvent, gotCorrelation string
	var gotPayload any
	trigger := &fakeEventTrigger{
		triggerFn: func(ctx context.Context, ownerID, event string, payload any) (int, error) {
			gotOwner, gotEvent, gotPayload = ownerID, event, payload
			gotCorrelation, _ = observability.CorrelationIDFromContext(ctx)
			return 2, nil
		},
	}
	listener, err := NewEventListener(&fakeConsumer{}, trigger, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventListener() error = %v", err)
	}

	msg := queue.EventMessage{
		ID:            "evt-1",
		CorrelationID: "corr-1",
		OwnerID:       "owner-1",
		Event:         "order.created",
		Payload:       json.RawMessage(`{"orderId":"o-1"}`),
	}
	if err := listener.handleEvent(context.Background(), msg); err != nil {
		t.Fatalf("handleEvent() error = %v", err)
	}

	if gotOwner != "owner-1" || gotEvent != "order.created" || gotCorrelation != "corr-1" {
		t.Fatalf("trigger got owner=%q event=%q correlation=%q", gotOwner, gotEvent, gotCorrelation)
	}
	if raw, ok := gotPayload.(json.RawMessage); !ok || string(raw) != `{"orderId":"o-1"}` {
		t.Fatalf("payload = %#v, want the raw event payload", gotPayload)
	}
}

func TestEventListenerHandleEventReturnsTriggerError(t *testing.T) {
	t.Parallel()

	trigger := &fakeEventTrigger{
		triggerFn: func(context.Context, string, string, any) (int, error) {
			return 0, errors.New("db unavailable")
		},
	}
	listener, err := NewEventListener(&fakeConsumer{}, trigger, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventListener() error = %v", err)
	}

	err = listener.handleEvent(context.Background(), queue.EventMessage{OwnerID: "owner-1", Event: "order.created"})
	if err == nil {
		t.Fatal("expected handleEvent() error so the message is redelivered")
	}
}

func TestEventListenerStartRunsWorkersOnEventsQueue(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	queues := make([]string, 0, 3)
	var running atomic.Int32
	ready := make(chan struct{})

	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.EventHandler) error {
			mu.Lock()
			queues = append(queues, queueName)
			mu.Unlock()
			if running.Add(1) == 3 {
				close(ready)
			}
			<-ctx.Done()
			return nil
		},
	}
	listener, err := NewEventListener(consumer, &fakeEventTrigger{}, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventListener() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- listener.Start(ctx)
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not start")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, q := range queues {
		if q != queue.EventsQueue {
			t.Fatalf("consumed queue = %s, want %s", q, queue.EventsQueue)
		}
	}
}

func TestEventListenerStartReturnsConsumerError(t *testing.T) {
	t.Parallel()

	consumer := &fakeConsumer{
		consumeFn: func(context.Context, string, queue.EventHandler) error {
			return errors.New("channel closed")
		},
	}
	listener, err := NewEventListener(consumer, &fakeEventTrigger{}, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventListener() error = %v", err)
	}

	if err := listener.Start(context.Background()); err == nil {
		t.Fatal("expected Start() error")
	}
}
