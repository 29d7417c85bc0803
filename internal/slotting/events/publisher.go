package events

import (
	"context"

	"github.com/medflow/medflow-slotting/internal/slotting/engine"
	"github.com/medflow/medflow-slotting/internal/slotting/repository"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/messaging"
)

// SlottingEventPublisher publishes slotting-related events
type SlottingEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewSlottingEventPublisher creates a new slotting event publisher
func NewSlottingEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*SlottingEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeSlottingEvents, "slotting-service", log)
	if err != nil {
		return nil, err
	}

	return NewSlottingEventPublisherWith(publisher, log), nil
}

// NewSlottingEventPublisherWith wraps an existing publisher
func NewSlottingEventPublisherWith(publisher messaging.EventPublisher, log *logger.Logger) *SlottingEventPublisher {
	return &SlottingEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishPlanCompleted publishes a plan completed event
func (p *SlottingEventPublisher) PublishPlanCompleted(ctx context.Context, run *repository.PlanRun, unplaceableBatches int) {
	if p == nil {
		return
	}

	data := messaging.PlanCompletedEvent{
		TenantID:            run.TenantID,
		RunID:               run.ID,
		Trigger:             run.Trigger,
		AsOf:                run.AsOf,
		Fingerprint:         run.Fingerprint,
		Medications:         run.Medications,
		Batches:             run.Batches,
		PositionsUsed:       run.PositionsUsed,
		PlacedQuantity:      run.PlacedQuantity,
		UnplaceableQuantity: run.UnplaceableQuantity,
		UnplaceableBatches:  unplaceableBatches,
	}

	if err := p.publisher.Publish(ctx, messaging.EventPlanCompleted, data); err != nil {
		p.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to publish plan completed event")
	}
}

// PublishBatchUnplaceable publishes one event per batch left without a position
func (p *SlottingEventPublisher) PublishBatchUnplaceable(ctx context.Context, run *repository.PlanRun, u engine.Unplaceable) {
	if p == nil {
		return
	}

	data := messaging.BatchUnplaceableEvent{
		TenantID:     run.TenantID,
		RunID:        run.ID,
		MedicationID: u.MedicationID,
		BatchID:      u.BatchID,
		Quantity:     u.Quantity,
		Reason:       string(u.Reason),
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchUnplaceable, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", u.BatchID).Msg("failed to publish batch unplaceable event")
	}
}
