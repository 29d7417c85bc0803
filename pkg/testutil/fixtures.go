package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medflow-slotting/internal/slotting/engine"
)

// FixtureFactory creates slotting fixtures with sensible defaults.
// Ids are random UUIDs so fixtures can be inserted into Postgres as is.
type FixtureFactory struct {
	sequence int
	// AsOf anchors batch expiry dates.
	AsOf time.Time
}

// NewFixtureFactory creates a new fixture factory anchored on 2025-01-01
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{AsOf: Date(2025, time.January, 1)}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Medication creates a chronic general medication with one batch of 100
// expiring in 120 days.
func (f *FixtureFactory) Medication(opts ...func(*engine.RawMedication)) engine.RawMedication {
	seq := f.nextSeq()

	m := engine.RawMedication{
		ID:              uuid.NewString(),
		Name:            fmt.Sprintf("Medication %d", seq),
		Usage:           "chronic",
		StorageCategory: "general",
		VelocityScore:   60,
		WeightKg:        1,
		VolumeCm3:       500,
		Fragility:       "low",
	}
	m.Batches = []engine.RawBatch{f.Batch(120, 100)}

	for _, opt := range opts {
		opt(&m)
	}

	return m
}

// Batch creates a batch expiring daysToExpiry days after AsOf
func (f *FixtureFactory) Batch(daysToExpiry, quantity int) engine.RawBatch {
	seq := f.nextSeq()
	return engine.RawBatch{
		ID:          uuid.NewString(),
		BatchNumber: fmt.Sprintf("LOT-%04d", seq),
		Quantity:    quantity,
		ExpiryDate:  f.AsOf.AddDate(0, 0, daysToExpiry),
	}
}

// WithVelocity sets the medication velocity score
func WithVelocity(v float64) func(*engine.RawMedication) {
	return func(m *engine.RawMedication) {
		m.VelocityScore = v
	}
}

// WithUsage sets the medication usage pattern
func WithUsage(usage string) func(*engine.RawMedication) {
	return func(m *engine.RawMedication) {
		m.Usage = usage
	}
}

// WithCategory sets the medication storage category
func WithCategory(category string) func(*engine.RawMedication) {
	return func(m *engine.RawMedication) {
		m.StorageCategory = category
	}
}

// WithWeight sets the medication unit weight
func WithWeight(kg float64) func(*engine.RawMedication) {
	return func(m *engine.RawMedication) {
		m.WeightKg = kg
	}
}

// WithBatches replaces the medication batches
func WithBatches(batches ...engine.RawBatch) func(*engine.RawMedication) {
	return func(m *engine.RawMedication) {
		m.Batches = batches
	}
}

// Shelf creates a level 1 shelf in aisle A holding 20 kg
func (f *FixtureFactory) Shelf(opts ...func(*engine.Shelf)) engine.Shelf {
	f.nextSeq()

	sh := engine.Shelf{
		ID:          uuid.NewString(),
		AisleID:     "A",
		Level:       1,
		MaxWeightKg: 20,
	}

	for _, opt := range opts {
		opt(&sh)
	}

	return sh
}

// WithLevel sets the shelf level
func WithLevel(level int) func(*engine.Shelf) {
	return func(s *engine.Shelf) {
		s.Level = level
	}
}

// WithReservation sets the shelf reservation tag
func WithReservation(tag string) func(*engine.Shelf) {
	return func(s *engine.Shelf) {
		s.ReservedFor = tag
	}
}

// WithMaxWeight sets the shelf weight limit
func WithMaxWeight(kg float64) func(*engine.Shelf) {
	return func(s *engine.Shelf) {
		s.MaxWeightKg = kg
	}
}

// WithOverrides sets the shelf position overrides
func WithOverrides(overrides ...engine.PositionOverride) func(*engine.Shelf) {
	return func(s *engine.Shelf) {
		s.Overrides = overrides
	}
}
