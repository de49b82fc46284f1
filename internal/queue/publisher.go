package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
)

const headerChannel = "x-channel"

// RabbitMQPublisher publishes owner notifications on the default exchange, routed by queue name.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg NotificationMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	publishing, err := notificationPublishing(msg, p.now().UTC())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish %s notification to queue %q: %w", msg.Template, queue, err)
	}
	return nil
}

// notificationPublishing validates msg and builds the persistent AMQP message for it.
func notificationPublishing(msg NotificationMessage, at time.Time) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid notification message: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal notification message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     at,
		MessageId:     msg.ID,
		CorrelationId: msg.CorrelationID,
		AppId:         observability.ServiceName,
		Type:          msg.Template,
		Headers:       amqp.Table{headerChannel: msg.Channel.String()},
		Body:          body,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
