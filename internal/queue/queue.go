package queue

import (
	"context"
	"fmt"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/provider"
)

// Publisher publishes owner notification messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg NotificationMessage) error
	Close() error
}

// EventHandler handles a consumed domain event.
type EventHandler func(ctx context.Context, msg EventMessage) error

// Consumer consumes domain events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler EventHandler) error
	Close() error
}

// EventsQueue carries domain events ("order.created", ...) that fan out to webhooks.
const EventsQueue = "webhook.events"

var notificationChannels = []provider.Channel{
	provider.ChannelEmail,
	provider.ChannelSMS,
}

// NotificationQueueName returns the outbound queue for a channel, e.g. notify.email.
func NotificationQueueName(channel provider.Channel) string {
	return fmt.Sprintf("notify.%s", channel)
}

// DLQName returns the dead-letter queue for a work queue, e.g. dlq.webhook.events.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}
