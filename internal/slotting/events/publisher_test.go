package events

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/medflow/medflow-slotting/internal/slotting/engine"
	"github.com/medflow/medflow-slotting/internal/slotting/repository"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/messaging"
	"github.com/medflow/medflow-slotting/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun() *repository.PlanRun {
	return &repository.PlanRun{
		ID:                  "run-1",
		TenantID:            "tenant-1",
		AsOf:                time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Trigger:             "manual",
		Fingerprint:         "abc",
		Medications:         2,
		Batches:             3,
		PositionsUsed:       2,
		PlacedQuantity:      150,
		UnplaceableQuantity: 20,
	}
}

func TestPublishPlanCompleted(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := NewSlottingEventPublisherWith(mock, logger.Nop())

	p.PublishPlanCompleted(testutil.DefaultTestContext(t), testRun(), 1)

	events := mock.Events(messaging.EventPlanCompleted)
	require.Len(t, events, 1)
	data, ok := events[0].Payload.(messaging.PlanCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "tenant-1", data.TenantID)
	assert.Equal(t, "run-1", data.RunID)
	assert.Equal(t, 150, data.PlacedQuantity)
	assert.Equal(t, 1, data.UnplaceableBatches)
}

func TestPublishBatchUnplaceable(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := NewSlottingEventPublisherWith(mock, logger.Nop())

	p.PublishBatchUnplaceable(testutil.DefaultTestContext(t), testRun(), engine.Unplaceable{
		MedicationID: "m-1",
		BatchID:      "b-1",
		Quantity:     20,
		Reason:       engine.UnplaceableCapacityExhausted,
	})

	events := mock.Events(messaging.EventBatchUnplaceable)
	require.Len(t, events, 1)
	data := events[0].Payload.(messaging.BatchUnplaceableEvent)
	assert.Equal(t, "b-1", data.BatchID)
	assert.Equal(t, "capacity_exhausted", data.Reason)
}

func TestPublisher_ErrorsAreLoggedNotReturned(t *testing.T) {
	mock := testutil.NewMockPublisher()
	mock.Err = stderrors.New("broker down")
	p := NewSlottingEventPublisherWith(mock, logger.Nop())

	assert.NotPanics(t, func() {
		p.PublishPlanCompleted(testutil.DefaultTestContext(t), testRun(), 0)
	})
	mock.AssertEventPublished(t, messaging.EventPlanCompleted)
}

func TestPublisher_NilIsNoop(t *testing.T) {
	var p *SlottingEventPublisher
	assert.NotPanics(t, func() {
		p.PublishPlanCompleted(testutil.DefaultTestContext(t), testRun(), 0)
		p.PublishBatchUnplaceable(testutil.DefaultTestContext(t), testRun(), engine.Unplaceable{})
	})
}
