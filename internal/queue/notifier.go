package queue

import (
	"context"
	"fmt"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/provider"
)

// Notifier implements provider.MessageSender by publishing to the channel's notify queue.
type Notifier struct {
	publisher Publisher
}

func NewNotifier(publisher Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

func (n *Notifier) SendMessage(ctx context.Context, msg provider.Message) error {
	if n == nil || n.publisher == nil {
		return fmt.Errorf("notifier is not initialized")
	}

	channel := msg.Channel
	if channel == "" {
		channel = provider.ChannelEmail
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	return n.publisher.Publish(ctx, NotificationQueueName(channel), NotificationMessage{
		Recipient:     msg.Recipient,
		Template:      msg.Template,
		Channel:       channel,
		Data:          msg.Data,
		CorrelationID: correlationID,
	})
}
