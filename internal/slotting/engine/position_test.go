package engine_test

import (
	"errors"
	"math"
	"testing"

	"github.com/medflow/medflow-slotting/internal/slotting/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shelf(id, aisle string, level int, maxWeight float64) engine.Shelf {
	return engine.Shelf{ID: id, AisleID: aisle, Level: level, MaxWeightKg: maxWeight}
}

func TestBuildShelfPositions_Grid(t *testing.T) {
	positions, err := engine.BuildShelfPositions(shelf("s1", "a1", 1, 40))
	require.NoError(t, err)
	require.Len(t, positions, engine.PositionsPerShelf)

	first, last := positions[0], positions[len(positions)-1]
	assert.Equal(t, 1, first.GridX)
	assert.Equal(t, engine.RowFront, first.GridY)
	assert.Equal(t, 10, last.GridX)
	assert.Equal(t, engine.RowBack, last.GridY)

	ids := make(map[string]bool)
	for _, p := range positions {
		assert.False(t, ids[p.ID], "duplicate id %s", p.ID)
		ids[p.ID] = true
		assert.Equal(t, "s1", p.ShelfID)
		assert.Equal(t, "a1", p.AisleID)
		assert.Equal(t, 40.0, p.MaxWeightKg)
	}
}

func TestBuildShelfPositions_Idempotent(t *testing.T) {
	s := shelf("s1", "a1", 2, 30)
	first, err := engine.BuildShelfPositions(s)
	require.NoError(t, err)
	second, err := engine.BuildShelfPositions(s)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAccessibility(t *testing.T) {
	tests := []struct {
		x    int
		y    engine.Row
		want float64
	}{
		{5, engine.RowFront, 1.0},
		{5, engine.RowMiddle, 0.8},
		{5, engine.RowBack, 0.6},
		{1, engine.RowFront, 0.9},
		{2, engine.RowMiddle, 0.72},
		{9, engine.RowFront, 0.9},
		{10, engine.RowBack, 0.54},
		{3, engine.RowFront, 1.0},
		{8, engine.RowFront, 1.0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, engine.Accessibility(tt.x, tt.y), 1e-9, "x=%d y=%d", tt.x, tt.y)
	}
}

func TestIsGoldenZone(t *testing.T) {
	assert.True(t, engine.IsGoldenZone(1, 4, engine.RowFront))
	assert.True(t, engine.IsGoldenZone(2, 7, engine.RowFront))
	assert.False(t, engine.IsGoldenZone(3, 5, engine.RowFront), "level 3 is out of reach")
	assert.False(t, engine.IsGoldenZone(0, 5, engine.RowFront))
	assert.False(t, engine.IsGoldenZone(1, 3, engine.RowFront))
	assert.False(t, engine.IsGoldenZone(1, 8, engine.RowFront))
	assert.False(t, engine.IsGoldenZone(1, 5, engine.RowMiddle))

	positions, err := engine.BuildShelfPositions(shelf("s1", "a1", 1, 40))
	require.NoError(t, err)
	golden := 0
	for _, p := range positions {
		if p.IsGoldenZone {
			golden++
		}
	}
	assert.Equal(t, 4, golden)
}

func TestBuildShelfPositions_Overrides(t *testing.T) {
	controlled := engine.ReservedControlled
	heavy := 80.0
	noStack := false
	s := shelf("s1", "a1", 1, 25)
	s.AllowsStacking = true
	s.ReservedFor = engine.ReservedOverstock
	s.Overrides = []engine.PositionOverride{
		{GridX: 3, GridY: 1, ReservedFor: &controlled, AllowsStacking: &noStack},
		{GridX: 10, GridY: 3, MaxWeightKg: &heavy},
		{GridX: 1, GridY: 2, Blocked: true},
	}

	positions, err := engine.BuildShelfPositions(s)
	require.NoError(t, err)

	byCell := make(map[[2]int]engine.Position)
	for _, p := range positions {
		byCell[[2]int{p.GridX, int(p.GridY)}] = p
	}

	assert.Equal(t, engine.ReservedControlled, byCell[[2]int{3, 1}].ReservedFor)
	assert.False(t, byCell[[2]int{3, 1}].AllowsStacking)
	assert.Equal(t, 80.0, byCell[[2]int{10, 3}].MaxWeightKg)
	assert.True(t, byCell[[2]int{1, 2}].Blocked)
	assert.Equal(t, engine.ReservedOverstock, byCell[[2]int{5, 2}].ReservedFor)
	assert.True(t, byCell[[2]int{5, 2}].AllowsStacking)
}

func TestBuildShelfPositions_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		shelf engine.Shelf
	}{
		{"negative level", shelf("s1", "a1", -1, 30)},
		{"negative max weight", shelf("s1", "a1", 1, -2)},
		{"empty id", shelf("", "a1", 1, 30)},
		{"override outside grid", engine.Shelf{ID: "s1", Level: 1, Overrides: []engine.PositionOverride{{GridX: 11, GridY: 1}}}},
		{"infinite max weight", shelf("s1", "a1", 1, math.Inf(1))},
		{"NaN override weight", engine.Shelf{ID: "s1", Level: 1, Overrides: []engine.PositionOverride{{GridX: 2, GridY: 1, MaxWeightKg: ptr(math.NaN())}}}},
		{"negative override weight", engine.Shelf{ID: "s1", Level: 1, Overrides: []engine.PositionOverride{{GridX: 2, GridY: 1, MaxWeightKg: ptr(-1.0)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.BuildShelfPositions(tt.shelf)
			require.Error(t, err)
			assert.True(t, errors.Is(err, engine.ErrInvalidShelf))

			var shelfErr *engine.InvalidShelfError
			assert.True(t, errors.As(err, &shelfErr))
		})
	}
}

func TestBuildCatalog(t *testing.T) {
	positions, err := engine.BuildCatalog([]engine.Shelf{shelf("s1", "a1", 1, 30), shelf("s2", "a1", 2, 30)})
	require.NoError(t, err)
	assert.Len(t, positions, 2*engine.PositionsPerShelf)

	_, err = engine.BuildCatalog([]engine.Shelf{shelf("s1", "a1", 1, 30), shelf("s1", "a2", 2, 30)})
	assert.ErrorIs(t, err, engine.ErrInvalidShelf)
}

func TestValidatePositions(t *testing.T) {
	positions, err := engine.BuildShelfPositions(shelf("s1", "a1", 1, 30))
	require.NoError(t, err)
	require.NoError(t, engine.ValidatePositions(positions))

	bad := append([]engine.Position(nil), positions...)
	bad[4].GridY = 4
	assert.ErrorIs(t, engine.ValidatePositions(bad), engine.ErrInvalidShelf)

	bad = append([]engine.Position(nil), positions...)
	bad[2].Accessibility = 0
	assert.ErrorIs(t, engine.ValidatePositions(bad), engine.ErrInvalidShelf)

	bad = append([]engine.Position(nil), positions...)
	bad[1].ID = bad[0].ID
	assert.ErrorIs(t, engine.ValidatePositions(bad), engine.ErrInvalidShelf)

	for name, mutate := range map[string]func(p *engine.Position){
		"NaN max weight":      func(p *engine.Position) { p.MaxWeightKg = math.NaN() },
		"infinite max weight": func(p *engine.Position) { p.MaxWeightKg = math.Inf(1) },
		"NaN accessibility":   func(p *engine.Position) { p.Accessibility = math.NaN() },
	} {
		bad = append([]engine.Position(nil), positions...)
		mutate(&bad[3])
		var shelfErr *engine.InvalidShelfError
		require.ErrorAs(t, engine.ValidatePositions(bad), &shelfErr, name)
		assert.Equal(t, bad[3].ID, shelfErr.PositionID, name)
	}
}

func TestPlan_RejectsPositionWithNaNCapacity(t *testing.T) {
	heavy := normalized(t, rawMed("med-a", 50, 500))
	p := position(5, engine.RowFront, 1, math.NaN())

	result, err := newPlanner().Plan([]engine.Medication{heavy}, []engine.Position{p}, engine.PlanOptions{AsOf: asOf})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, engine.ErrInvalidShelf)
}

func ptr[T any](v T) *T { return &v }
