package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/medflow/medflow-slotting/internal/slotting/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func daysFrom(days int) time.Time {
	return asOf.AddDate(0, 0, days)
}

func rawMed(id string, velocity, weight float64) engine.RawMedication {
	return engine.RawMedication{
		ID:            id,
		Name:          "Med " + id,
		Usage:         "chronic",
		VelocityScore: velocity,
		WeightKg:      weight,
		VolumeCm3:     250,
		Batches: []engine.RawBatch{
			{ID: id + "-b1", BatchNumber: "LOT-" + id, Quantity: 10, ExpiryDate: daysFrom(200)},
		},
	}
}

func TestMovementFor(t *testing.T) {
	tests := []struct {
		velocity float64
		want     engine.MovementCategory
	}{
		{0, engine.MovementSlow},
		{30, engine.MovementSlow},
		{30.01, engine.MovementMedium},
		{70, engine.MovementMedium},
		{70.5, engine.MovementFast},
		{100, engine.MovementFast},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.MovementFor(tt.velocity), "velocity %v", tt.velocity)
	}
}

func TestClassifyABC(t *testing.T) {
	tests := []struct {
		name     string
		usage    engine.UsagePattern
		velocity float64
		want     engine.ABCClass
	}{
		{"chronic fast mover", engine.UsageChronic, 51, engine.ClassA},
		{"chronic at threshold", engine.UsageChronic, 50, engine.ClassC},
		{"intermittent regardless of velocity", engine.UsageIntermittent, 95, engine.ClassB},
		{"sporadic", engine.UsageSporadic, 99, engine.ClassC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.ClassifyABC(tt.usage, tt.velocity))
		})
	}
}

func TestNormalizeMedication_DerivesAttributes(t *testing.T) {
	raw := rawMed("amox", 82, 4.5)
	raw.StorageCategory = "Controlled"
	raw.Fragility = "HIGH"

	med, err := engine.NormalizeMedication(raw)
	require.NoError(t, err)

	assert.Equal(t, engine.MovementFast, med.Movement)
	assert.Equal(t, engine.ClassA, med.ABC)
	assert.Equal(t, engine.CategoryControlled, med.Category)
	assert.Equal(t, engine.FragilityHigh, med.Fragility)
	assert.True(t, med.Stackable)
	assert.True(t, med.RequiresSecurity, "controlled category implies security")
	assert.False(t, med.RequiresRefrigeration)
	require.Len(t, med.Batches, 1)
	assert.Equal(t, "amox", med.Batches[0].MedicationID)
}

func TestNormalizeMedication_StackableBoundary(t *testing.T) {
	light, err := engine.NormalizeMedication(rawMed("light", 10, 9.99))
	require.NoError(t, err)
	assert.True(t, light.Stackable)

	heavy, err := engine.NormalizeMedication(rawMed("heavy", 10, 10))
	require.NoError(t, err)
	assert.False(t, heavy.Stackable)
}

func TestNormalizeMedication_RefrigeratedCategory(t *testing.T) {
	raw := rawMed("insulin", 40, 0.3)
	raw.StorageCategory = "refrigerated"

	med, err := engine.NormalizeMedication(raw)
	require.NoError(t, err)
	assert.True(t, med.RequiresRefrigeration)
	assert.Equal(t, engine.MovementMedium, med.Movement)
}

func TestNormalizeMedication_ClampsVelocity(t *testing.T) {
	med, err := engine.NormalizeMedication(rawMed("clamp", 140, 1))
	require.NoError(t, err)
	assert.Equal(t, 100.0, med.VelocityScore)
	assert.Equal(t, engine.MovementFast, med.Movement)
}

func TestNormalizeMedication_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*engine.RawMedication)
		field  string
	}{
		{"negative velocity", func(r *engine.RawMedication) { r.VelocityScore = -1 }, "velocity_score"},
		{"zero weight", func(r *engine.RawMedication) { r.WeightKg = 0 }, "weight_kg"},
		{"negative weight", func(r *engine.RawMedication) { r.WeightKg = -3 }, "weight_kg"},
		{"unknown usage", func(r *engine.RawMedication) { r.Usage = "daily" }, "usage"},
		{"unknown category", func(r *engine.RawMedication) { r.StorageCategory = "Frozen" }, "storage_category"},
		{"unknown fragility", func(r *engine.RawMedication) { r.Fragility = "glass" }, "fragility"},
		{"empty id", func(r *engine.RawMedication) { r.ID = "" }, "id"},
		{"zero quantity batch", func(r *engine.RawMedication) { r.Batches[0].Quantity = 0 }, "quantity"},
		{"missing expiry", func(r *engine.RawMedication) { r.Batches[0].ExpiryDate = time.Time{} }, "expiry_date"},
		{"duplicate batch", func(r *engine.RawMedication) { r.Batches = append(r.Batches, r.Batches[0]) }, "batch.id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawMed("bad", 50, 2)
			tt.mutate(&raw)

			_, err := engine.NormalizeMedication(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, engine.ErrInvalidAttribute))

			var attrErr *engine.InvalidAttributeError
			require.True(t, errors.As(err, &attrErr))
			assert.Equal(t, tt.field, attrErr.Field)
		})
	}
}

func TestNormalizeCatalog_RejectsDuplicateIDs(t *testing.T) {
	_, err := engine.NormalizeCatalog([]engine.RawMedication{rawMed("a", 10, 1), rawMed("a", 20, 1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvalidAttribute)
}

func TestUrgencyFor(t *testing.T) {
	tests := []struct {
		days int
		want engine.Urgency
	}{
		{-5, engine.UrgencyCritical},
		{0, engine.UrgencyCritical},
		{30, engine.UrgencyCritical},
		{31, engine.UrgencySoon},
		{90, engine.UrgencySoon},
		{91, engine.UrgencyNormal},
		{180, engine.UrgencyNormal},
		{181, engine.UrgencyLong},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.UrgencyFor(daysFrom(tt.days), asOf), "days %d", tt.days)
	}
}

func TestMedication_MostUrgent(t *testing.T) {
	raw := rawMed("multi", 50, 1)
	raw.Batches = append(raw.Batches, engine.RawBatch{ID: "multi-b2", Quantity: 3, ExpiryDate: daysFrom(12)})

	med, err := engine.NormalizeMedication(raw)
	require.NoError(t, err)
	assert.Equal(t, engine.UrgencyCritical, med.MostUrgent(asOf))
	assert.Equal(t, 13, med.TotalQuantity())
}
