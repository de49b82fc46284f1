package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
)

const (
	dlxExchangeName  = "wms.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second

	// Owner notifications older than this are dead-lettered instead of sent late.
	notificationTTL = 24 * time.Hour
)

// queueSpec is one durable work queue and its declaration arguments.
type queueSpec struct {
	name string
	args amqp.Table
}

func topologySpecs() []queueSpec {
	specs := make([]queueSpec, 0, len(notificationChannels)+1)
	for _, channel := range notificationChannels {
		name := NotificationQueueName(channel)
		args := deadLetterArgs(name)
		args["x-message-ttl"] = notificationTTL.Milliseconds()
		specs = append(specs, queueSpec{name: name, args: args})
	}
	return append(specs, queueSpec{name: EventsQueue, args: deadLetterArgs(EventsQueue)})
}

// RabbitMQ owns one broker connection, redials it with backoff, and declares the
// topology once per connection.
type RabbitMQ struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	declared    *amqp.Connection
}

func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a fresh channel, redialing first when the connection dropped.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.liveConn(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		if err := r.reconnectWithBackoff(ctx); err != nil {
			return nil, err
		}
		if conn, err = r.liveConn(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := r.declareOnce(conn, ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) liveConn(ctx context.Context) (*amqp.Connection, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is closed")
	}
	return r.conn, nil
}

func (r *RabbitMQ) declareOnce(conn *amqp.Connection, ch *amqp.Channel) error {
	r.mu.RLock()
	done := r.declared == conn
	r.mu.RUnlock()
	if done {
		return nil
	}

	if err := declareTopology(ch); err != nil {
		return err
	}

	r.mu.Lock()
	if r.conn == conn {
		r.declared = conn
	}
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}
	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	config := amqp.Config{Properties: amqp.NewConnectionProperties()}
	config.Properties.SetClientConnectionName(observability.ServiceName)

	wait := reconnectBackoff
	for {
		newConn, err := amqp.DialConfig(r.url, config)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq connect canceled after %v: %w", err, ctx.Err())
		case <-time.After(wait):
		}

		wait = min(wait*2, maxBackoff)
	}
}

// declareTopology declares every work queue with a dead-letter route to its
// dlq.<queue> counterpart through the shared DLX.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, spec := range topologySpecs() {
		dlqName := DLQName(spec.name)
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
		}
		if err := ch.QueueBind(dlqName, spec.name, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
		}
		if _, err := ch.QueueDeclare(spec.name, true, false, false, false, spec.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", spec.name, err)
		}
	}
	return nil
}

func deadLetterArgs(queueName string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": queueName,
	}
}
