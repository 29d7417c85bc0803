package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/medflow/medflow-slotting/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MaxDeliveryAttempts is how often a failing event is tried before it is
// dead-lettered.
const MaxDeliveryAttempts = 3

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Consumer dispatches events from one durable queue to handlers by event type.
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger

	// failed delivery attempts per event id; a requeued nack carries no
	// x-death header, so redeliveries are counted here
	mu       sync.Mutex
	attempts map[string]int
}

// NewConsumer declares queueName and returns a consumer for it
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return newConsumer(rmq, queueName, log), nil
}

func newConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) *Consumer {
	return &Consumer{
		rmq:       rmq,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log.WithComponent("consumer"),
		attempts:  make(map[string]int),
	}
}

// Subscribe binds the queue to a topic exchange
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")
	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start consumes in a background goroutine until ctx is done. When the
// broker closes the delivery channel the consumer reconnects and resumes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.consume()
	if err != nil {
		return err
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if ok {
					c.handleMessage(ctx, msg)
					continue
				}
				c.logger.Warn().Str("queue", c.queueName).Msg("delivery channel closed, reconnecting")
				if msgs, err = c.resume(ctx); err != nil {
					c.logger.Error().Err(err).Str("queue", c.queueName).Msg("consumer gave up")
					return
				}
			}
		}
	}()

	return nil
}

func (c *Consumer) consume() (<-chan amqp.Delivery, error) {
	msgs, err := c.rmq.Channel().Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", c.queueName, err)
	}
	return msgs, nil
}

func (c *Consumer) resume(ctx context.Context) (<-chan amqp.Delivery, error) {
	if err := c.rmq.Reconnect(ctx); err != nil {
		return nil, err
	}
	if _, err := c.rmq.DeclareQueue(c.queueName); err != nil {
		return nil, fmt.Errorf("failed to redeclare queue %s: %w", c.queueName, err)
	}
	return c.consume()
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Str("queue", c.queueName).Msg("failed to unmarshal event")
		msg.Reject(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)
	log := c.logger.WithCorrelationID(event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		log.Debug().Str("event_type", event.Type).Msg("no handler registered for event type")
		msg.Ack(false)
		return
	}

	log.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Msg("processing event")

	if err := c.dispatch(ctx, handler, &event); err != nil {
		attempt := c.recordFailure(event.ID, msg)
		log.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Int("attempt", attempt).
			Msg("failed to process event")

		if attempt >= MaxDeliveryAttempts {
			log.Warn().Str("event_id", event.ID).Msg("max attempts reached, sending to DLQ")
			c.forget(event.ID)
			msg.Reject(false)
			return
		}
		msg.Nack(false, true)
		return
	}

	c.forget(event.ID)
	msg.Ack(false)
}

// dispatch runs handler and turns a panic into an error.
func (c *Consumer) dispatch(ctx context.Context, handler MessageHandler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

func (c *Consumer) recordFailure(eventID string, msg amqp.Delivery) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[eventID]++
	if n := deathCount(msg) + 1; n > c.attempts[eventID] {
		c.attempts[eventID] = n
	}
	return c.attempts[eventID]
}

func (c *Consumer) forget(eventID string) {
	c.mu.Lock()
	delete(c.attempts, eventID)
	c.mu.Unlock()
}

// deathCount reads how often the broker already dead-lettered the message.
func deathCount(msg amqp.Delivery) int {
	deaths, ok := msg.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	total := 0
	for _, death := range deaths {
		if d, ok := death.(amqp.Table); ok {
			if count, ok := d["count"].(int64); ok {
				total += int(count)
			}
		}
	}
	return total
}
