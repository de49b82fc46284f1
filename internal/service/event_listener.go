package service

import (
	"context"
	"fmt"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minListenerConcurrency = 1

// EventTrigger fans a domain event out to the owner's webhook endpoints.
type EventTrigger interface {
	TriggerForOwner(ctx context.Context, ownerID, event string, payload any) (int, error)
}

// EventListener consumes domain events ("order.created", ...) raised by other services and
// turns each into a webhook fan-out.
type EventListener struct {
	consumer    queue.Consumer
	trigger     EventTrigger
	logger      *zap.Logger
	concurrency int
}

func NewEventListener(
	consumer queue.Consumer,
	trigger EventTrigger,
	concurrency int,
	logger *zap.Logger,
) (*EventListener, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if trigger == nil {
		return nil, fmt.Errorf("event trigger is required")
	}
	if concurrency < minListenerConcurrency {
		concurrency = minListenerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventListener{
		consumer:    consumer,
		trigger:     trigger,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start runs the consumer workers until ctx is cancelled.
func (l *EventListener) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := range l.concurrency {
		workerID := i + 1

		g.Go(func() error {
			l.logger.Info("event listener started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.EventsQueue),
			)

			if err := l.consumer.Consume(groupCtx, queue.EventsQueue, l.handleEvent); err != nil {
				l.logger.Error("event listener stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			l.logger.Info("event listener stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (l *EventListener) handleEvent(ctx context.Context, msg queue.EventMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(l.logger, ctx)

	started, err := l.trigger.TriggerForOwner(ctx, msg.OwnerID, msg.Event, msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to trigger webhooks for %s: %w", msg.Event, err)
	}

	logger.Info("domain event fanned out",
		zap.String("eventId", msg.ID),
		zap.String("event", msg.Event),
		zap.String("ownerId", msg.OwnerID),
		zap.Int("endpoints", started),
	)
	return nil
}
