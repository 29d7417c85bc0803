package consumers

import (
	"context"
	"fmt"

	"github.com/medflow/medflow-slotting/internal/slotting/service"
	"github.com/medflow/medflow-slotting/pkg/actor"
	"github.com/medflow/medflow-slotting/pkg/errors"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/messaging"
	"github.com/medflow/medflow-slotting/pkg/tenant"
)

// Replanner runs a planning run for the tenant in ctx.
type Replanner interface {
	Replan(ctx context.Context, req service.ReplanRequest) (*service.ReplanResult, error)
}

// InventoryEventHandler re-plans a tenant when its stock changes (testable without RabbitMQ)
type InventoryEventHandler struct {
	replanner Replanner
	logger    *logger.Logger
}

// NewInventoryEventHandler creates a new handler
func NewInventoryEventHandler(replanner Replanner, log *logger.Logger) *InventoryEventHandler {
	return &InventoryEventHandler{
		replanner: replanner,
		logger:    log,
	}
}

// HandleEvent dispatches an inventory event by type
func (h *InventoryEventHandler) HandleEvent(ctx context.Context, event *messaging.Event) error {
	switch event.Type {
	case messaging.EventBatchReceived, messaging.EventBatchUpdated,
		messaging.EventBatchDisposed, messaging.EventBatchExpiring:
		return h.handleBatchChanged(ctx, event)
	case messaging.EventStockAdjusted:
		return h.handleStockAdjusted(ctx, event)
	default:
		h.logger.Warn().Str("event_type", event.Type).Msg("unknown event type received")
		return nil
	}
}

// InventoryEventConsumer consumes inventory events to keep the layout current
type InventoryEventConsumer struct {
	consumer *messaging.Consumer
	handler  *InventoryEventHandler
	logger   *logger.Logger
}

// NewInventoryEventConsumer creates a new inventory event consumer for the slotting service
func NewInventoryEventConsumer(rmq *messaging.RabbitMQ, replanner Replanner, log *logger.Logger) (*InventoryEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "slotting-service.inventory-events", log)
	if err != nil {
		return nil, err
	}

	for _, pattern := range []string{"inventory.batch.#", "inventory.stock.#"} {
		if err := consumer.Subscribe(messaging.ExchangeInventoryEvents, pattern); err != nil {
			return nil, err
		}
	}

	handler := NewInventoryEventHandler(replanner, log)

	consumer.RegisterHandler(messaging.EventBatchReceived, handler.handleBatchChanged)
	consumer.RegisterHandler(messaging.EventBatchUpdated, handler.handleBatchChanged)
	consumer.RegisterHandler(messaging.EventBatchDisposed, handler.handleBatchChanged)
	consumer.RegisterHandler(messaging.EventBatchExpiring, handler.handleBatchChanged)
	consumer.RegisterHandler(messaging.EventStockAdjusted, handler.handleStockAdjusted)

	return &InventoryEventConsumer{
		consumer: consumer,
		handler:  handler,
		logger:   log,
	}, nil
}

// Start starts consuming messages
func (c *InventoryEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (h *InventoryEventHandler) handleBatchChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.BatchChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal BatchChangedEvent")
		return err
	}
	return h.replan(ctx, event, data.TenantID, data.BatchID)
}

func (h *InventoryEventHandler) handleStockAdjusted(ctx context.Context, event *messaging.Event) error {
	var data messaging.StockAdjustedEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal StockAdjustedEvent")
		return err
	}
	return h.replan(ctx, event, data.TenantID, data.BatchID)
}

// replan runs the planner for the event's tenant. Errors that a retry cannot
// fix are logged and the event is acknowledged.
func (h *InventoryEventHandler) replan(ctx context.Context, event *messaging.Event, rawTenantID, batchID string) error {
	tenantID, err := tenant.ParseID(rawTenantID)
	if err != nil {
		h.logger.Warn().
			Str("event_id", event.ID).
			Str("tenant_id", rawTenantID).
			Msg("inventory event without a valid tenant, skipping")
		return nil
	}

	ctx = tenant.WithTenantID(ctx, tenantID)
	ctx = actor.WithActor(ctx, actor.SystemActor())

	res, err := h.replanner.Replan(ctx, service.ReplanRequest{Trigger: service.TriggerInventoryEvent})
	if err != nil {
		if !errors.Retryable(err) {
			h.logger.Error().Err(err).
				Str("tenant_id", tenantID).
				Str("event_id", event.ID).
				Msg("replan rejected, event acknowledged")
			return nil
		}
		return fmt.Errorf("replan tenant %s: %w", tenantID, err)
	}

	h.logger.Info().
		Str("tenant_id", tenantID).
		Str("event_type", event.Type).
		Str("batch_id", batchID).
		Bool("changed", res.Changed).
		Msg("replanned after inventory event")
	return nil
}
