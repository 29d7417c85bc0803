package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Slotting events
	EventPlanCompleted    = "slotting.plan.completed"
	EventBatchUnplaceable = "slotting.batch.unplaceable"

	// Inventory events
	EventStockAdjusted = "inventory.stock.adjusted"
	EventBatchReceived = "inventory.batch.received"
	EventBatchUpdated  = "inventory.batch.updated"
	EventBatchDisposed = "inventory.batch.disposed"
	EventBatchExpiring = "inventory.batch.expiring"
)

// Exchange names
const (
	ExchangeSlottingEvents  = "slotting.events"
	ExchangeInventoryEvents = "inventory.events"
	DeadLetterExchange      = "dlx.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Slotting Events

// PlanCompletedEvent is published after a plan has been persisted
type PlanCompletedEvent struct {
	TenantID            string    `json:"tenant_id"`
	RunID               string    `json:"run_id"`
	Trigger             string    `json:"trigger"`
	AsOf                time.Time `json:"as_of"`
	Fingerprint         string    `json:"fingerprint"`
	Medications         int       `json:"medications"`
	Batches             int       `json:"batches"`
	PositionsUsed       int       `json:"positions_used"`
	PlacedQuantity      int       `json:"placed_quantity"`
	UnplaceableQuantity int       `json:"unplaceable_quantity"`
	UnplaceableBatches  int       `json:"unplaceable_batches"`
}

// BatchUnplaceableEvent is published once per batch that received no position
type BatchUnplaceableEvent struct {
	TenantID     string `json:"tenant_id"`
	RunID        string `json:"run_id"`
	MedicationID string `json:"medication_id"`
	BatchID      string `json:"batch_id"`
	Quantity     int    `json:"quantity"`
	Reason       string `json:"reason"`
}

// Inventory Events

// StockAdjustedEvent is published by inventory when stock is adjusted
type StockAdjustedEvent struct {
	TenantID    string `json:"tenant_id"`
	ItemID      string `json:"item_id"`
	BatchID     string `json:"batch_id"`
	Adjustment  int    `json:"adjustment"`
	NewQuantity int    `json:"new_quantity"`
	PerformedBy string `json:"performed_by"`
	Reason      string `json:"reason"`
}

// BatchChangedEvent is published by inventory when a batch is received,
// updated, disposed or flagged as expiring
type BatchChangedEvent struct {
	TenantID   string     `json:"tenant_id"`
	ItemID     string     `json:"item_id"`
	BatchID    string     `json:"batch_id"`
	BatchNo    string     `json:"batch_no,omitempty"`
	Quantity   int        `json:"quantity"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}
