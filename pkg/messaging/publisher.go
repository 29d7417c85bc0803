package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/tenant"
	amqp "github.com/rabbitmq/amqp091-go"
)

// HeaderTenantID carries the tenant of an event so consumers can route
// without decoding the body.
const HeaderTenantID = "x-tenant-id"

// EventPublisher is the subset of Publisher that event emitters depend on.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

var _ EventPublisher = (*Publisher)(nil)

// Publisher publishes events to one topic exchange, using the event type as
// routing key.
type Publisher struct {
	rmq      *RabbitMQ
	exchange string
	source   string
	logger   *logger.Logger
}

// NewPublisher declares exchange and returns a publisher for it
func NewPublisher(rmq *RabbitMQ, exchange, source string, log *logger.Logger) (*Publisher, error) {
	if err := rmq.DeclareExchange(exchange); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		rmq:      rmq,
		exchange: exchange,
		source:   source,
		logger:   log,
	}, nil
}

// Publish wraps data in an Event and publishes it persistently
func (p *Publisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	correlationID := CorrelationID(ctx)

	event, err := NewEvent(eventType, p.source, correlationID, data)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	msg, err := newPublishing(ctx, event)
	if err != nil {
		return err
	}

	// the channel is looked up per call so a reconnect is picked up
	if err := p.rmq.Channel().PublishWithContext(ctx, p.exchange, eventType, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}

	p.logger.Debug().
		Str("event_type", eventType).
		Str("event_id", event.ID).
		Str("correlation_id", correlationID).
		Msg("event published")
	return nil
}

func newPublishing(ctx context.Context, event *Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID,
		CorrelationId: event.CorrelationID,
		Timestamp:     event.Timestamp,
		Type:          event.Type,
		AppId:         event.Source,
		Body:          body,
	}
	if tenantID, err := tenant.TenantID(ctx); err == nil {
		msg.Headers = amqp.Table{HeaderTenantID: tenantID}
	}
	return msg, nil
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationID retrieves the correlation ID from context
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
