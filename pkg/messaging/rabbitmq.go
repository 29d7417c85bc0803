package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/medflow/medflow-slotting/pkg/config"
	"github.com/medflow/medflow-slotting/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned by Reconnect after Close.
var ErrClosed = errors.New("rabbitmq connection is permanently closed")

// RabbitMQ owns one connection and one channel shared by the service's
// publishers and consumers.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	logger  *logger.Logger
	mu      sync.RWMutex
	closed  bool
}

// New dials RabbitMQ
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		config: cfg,
		logger: log.WithComponent("rabbitmq"),
	}
	if err := rmq.connect(); err != nil {
		return nil, err
	}
	return rmq, nil
}

// connect dials and opens the channel; callers hold mu or own r exclusively.
func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	r.conn, r.channel = conn, ch
	r.logger.Info().Int("prefetch", r.config.PrefetchCount).Msg("connected to RabbitMQ")
	return nil
}

// Channel returns the current channel
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Close closes the channel and the connection for good
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.channel != nil {
		if err := r.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health reports connection and channel state. A nil RabbitMQ means
// messaging is switched off.
func (r *RabbitMQ) Health() map[string]string {
	if r == nil {
		return map[string]string{"status": "disabled"}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case r.conn == nil || r.conn.IsClosed():
		return map[string]string{"status": "down", "error": "connection closed"}
	case r.channel == nil || r.channel.IsClosed():
		return map[string]string{"status": "down", "error": "channel closed"}
	default:
		return map[string]string{"status": "up"}
	}
}

// DeclareExchange declares a durable topic exchange
func (r *RabbitMQ) DeclareExchange(name string) error {
	return r.Channel().ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// DeclareQueue declares a durable queue whose rejected messages go to
// DeadLetterExchange
func (r *RabbitMQ) DeclareQueue(name string) (amqp.Queue, error) {
	return r.Channel().QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": DeadLetterExchange,
	})
}

// DeadLetterQueueName is the queue collecting a service's rejected events.
func DeadLetterQueueName(serviceName string) string {
	return "dlq." + serviceName
}

// DeclareDeadLetterQueue declares DeadLetterExchange and the service's
// dead letter queue bound to every routing key
func (r *RabbitMQ) DeclareDeadLetterQueue(serviceName string) error {
	if err := r.DeclareExchange(DeadLetterExchange); err != nil {
		return fmt.Errorf("failed to declare DLX exchange: %w", err)
	}

	queueName := DeadLetterQueueName(serviceName)
	if _, err := r.Channel().QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := r.BindQueue(queueName, DeadLetterExchange, "#"); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}
	return nil
}

// BindQueue binds a queue to an exchange with a routing key pattern
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	return r.Channel().QueueBind(queueName, routingKey, exchange, false, nil)
}

// Reconnect replaces a lost connection, waiting ReconnectDelay times the
// attempt number between tries.
func (r *RabbitMQ) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.conn != nil && !r.conn.IsClosed() && r.channel != nil && !r.channel.IsClosed() {
		return nil
	}

	for attempt := 1; attempt <= r.config.MaxRetries; attempt++ {
		r.logger.Info().Int("attempt", attempt).Msg("attempting to reconnect to RabbitMQ")

		err := r.connect()
		if err == nil {
			return nil
		}
		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnection attempt failed")

		timer := time.NewTimer(time.Duration(attempt) * r.config.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts", r.config.MaxRetries)
}
