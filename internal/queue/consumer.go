package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
	"go.uber.org/zap"
)

// RabbitMQConsumer reads domain events with manual acks. Each Consume call owns one channel.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler EventHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("event handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("event consumer interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler EventHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	tag := fmt.Sprintf("%s-%s", observability.ServiceName, uuid.NewString())
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery dead-letters undecodable events and events the handler refuses as invalid.
// Other handler failures are requeued once; a redelivered event that fails again is
// dead-lettered.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler EventHandler) error {
	var msg EventMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("rejecting event: invalid JSON",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		return reject(d)
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("rejecting event: validation failed",
			zap.Error(err),
			zap.String("event", msg.Event),
			zap.String("ownerId", msg.OwnerID),
		)
		return reject(d)
	}

	if msg.ID == "" {
		msg.ID = d.MessageId
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}

	if err := handler(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.logger.Warn("rejecting event: handler refused it",
				zap.Error(err),
				zap.String("event", msg.Event),
				zap.String("ownerId", msg.OwnerID),
			)
			return reject(d)
		}

		requeue := !d.Redelivered
		c.logger.Warn("event handler failed",
			zap.Error(err),
			zap.String("event", msg.Event),
			zap.Bool("requeue", requeue),
		)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func reject(d amqp.Delivery) error {
	if err := d.Reject(false); err != nil {
		return fmt.Errorf("failed to reject delivery: %w", err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
