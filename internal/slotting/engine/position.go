package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Grid geometry of one shelf.
const (
	GridColumns       = 10
	GridRows          = 3
	PositionsPerShelf = GridColumns * GridRows
)

// Row is the depth of a position; 1 is the front.
type Row int

const (
	RowFront  Row = 1
	RowMiddle Row = 2
	RowBack   Row = 3
)

func (r Row) String() string {
	switch r {
	case RowFront:
		return "front"
	case RowMiddle:
		return "middle"
	case RowBack:
		return "back"
	}
	return "row(" + strconv.Itoa(int(r)) + ")"
}

// Named reservation tags. Only controlled, refrigerated and quarantine affect
// scoring; fast-movers, overstock and unknown tags score as untagged.
const (
	ReservedFastMovers   = "fast-movers"
	ReservedOverstock    = "overstock"
	ReservedControlled   = "controlled"
	ReservedRefrigerated = "refrigerated"
	ReservedQuarantine   = "quarantine"
)

// Accessibility multipliers.
const (
	middleRowFactor = 0.8
	backRowFactor   = 0.6
	edgeFactor      = 0.9
)

// positionNamespace seeds the name-based position ids.
var positionNamespace = uuid.MustParse("6f1d3c2a-8b4e-5a7f-9c1d-2e3f4a5b6c7d")

// Shelf is the physical shelf a position grid is materialized from.
type Shelf struct {
	ID             string             `json:"id"`
	AisleID        string             `json:"aisle_id"`
	Level          int                `json:"level"`
	MaxWeightKg    float64            `json:"max_weight_kg"`
	AllowsStacking bool               `json:"allows_stacking"`
	ReservedFor    string             `json:"reserved_for,omitempty"`
	Overrides      []PositionOverride `json:"overrides,omitempty"`
}

// PositionOverride replaces shelf defaults for a single grid cell.
type PositionOverride struct {
	GridX          int      `json:"grid_x"`
	GridY          int      `json:"grid_y"`
	ReservedFor    *string  `json:"reserved_for,omitempty"`
	MaxWeightKg    *float64 `json:"max_weight_kg,omitempty"`
	AllowsStacking *bool    `json:"allows_stacking,omitempty"`
	Blocked        bool     `json:"blocked,omitempty"`
}

// Position is one storage slot. A position holds at most one active placement.
type Position struct {
	ID             string  `json:"id"`
	ShelfID        string  `json:"shelf_id"`
	AisleID        string  `json:"aisle_id"`
	Level          int     `json:"level"`
	GridX          int     `json:"grid_x"`
	GridY          Row     `json:"grid_y"`
	IsGoldenZone   bool    `json:"is_golden_zone"`
	Accessibility  float64 `json:"accessibility"`
	ReservedFor    string  `json:"reserved_for,omitempty"`
	MaxWeightKg    float64 `json:"max_weight_kg"`
	AllowsStacking bool    `json:"allows_stacking"`
	Blocked        bool    `json:"blocked,omitempty"`
}

// Accessibility derives the reach score of a grid cell.
func Accessibility(gridX int, gridY Row) float64 {
	a := 1.0
	switch gridY {
	case RowMiddle:
		a *= middleRowFactor
	case RowBack:
		a *= backRowFactor
	}
	if gridX <= 2 || gridX >= GridColumns-1 {
		a *= edgeFactor
	}
	return a
}

// IsGoldenZone reports whether a cell is ergonomically optimal: front row,
// central columns, on the two lowest picking levels.
func IsGoldenZone(level, gridX int, gridY Row) bool {
	return (level == 1 || level == 2) && gridY == RowFront && gridX >= 4 && gridX <= 7
}

// PositionID is the deterministic id of a cell on a shelf.
func PositionID(shelfID string, gridX int, gridY Row) string {
	return uuid.NewSHA1(positionNamespace, []byte(fmt.Sprintf("%s/%d/%d", shelfID, gridX, gridY))).String()
}

// BuildShelfPositions materializes the 30-cell grid of a shelf, ordered front
// to back and left to right. Identical input always yields identical output.
func BuildShelfPositions(shelf Shelf) ([]Position, error) {
	invalid := func(field, reason string) error {
		return &InvalidShelfError{ShelfID: shelf.ID, Field: field, Reason: reason}
	}

	if strings.TrimSpace(shelf.ID) == "" {
		return nil, invalid("id", "must not be empty")
	}
	if shelf.Level < 0 {
		return nil, invalid("level", fmt.Sprintf("must be >= 0, got %d", shelf.Level))
	}
	if !validWeight(shelf.MaxWeightKg) {
		return nil, invalid("max_weight_kg", fmt.Sprintf("must be >= 0, got %v", shelf.MaxWeightKg))
	}

	overrides := make(map[[2]int]PositionOverride, len(shelf.Overrides))
	for _, o := range shelf.Overrides {
		if o.GridX < 1 || o.GridX > GridColumns || o.GridY < 1 || o.GridY > GridRows {
			return nil, invalid("overrides", fmt.Sprintf("cell (%d,%d) is outside the grid", o.GridX, o.GridY))
		}
		if o.MaxWeightKg != nil && !validWeight(*o.MaxWeightKg) {
			return nil, invalid("overrides", fmt.Sprintf("cell (%d,%d) has invalid max weight %v", o.GridX, o.GridY, *o.MaxWeightKg))
		}
		overrides[[2]int{o.GridX, o.GridY}] = o
	}

	positions := make([]Position, 0, PositionsPerShelf)
	for y := RowFront; y <= RowBack; y++ {
		for x := 1; x <= GridColumns; x++ {
			p := Position{
				ID:             PositionID(shelf.ID, x, y),
				ShelfID:        shelf.ID,
				AisleID:        shelf.AisleID,
				Level:          shelf.Level,
				GridX:          x,
				GridY:          y,
				IsGoldenZone:   IsGoldenZone(shelf.Level, x, y),
				Accessibility:  Accessibility(x, y),
				ReservedFor:    shelf.ReservedFor,
				MaxWeightKg:    shelf.MaxWeightKg,
				AllowsStacking: shelf.AllowsStacking,
			}
			if o, ok := overrides[[2]int{x, int(y)}]; ok {
				if o.ReservedFor != nil {
					p.ReservedFor = *o.ReservedFor
				}
				if o.MaxWeightKg != nil {
					p.MaxWeightKg = *o.MaxWeightKg
				}
				if o.AllowsStacking != nil {
					p.AllowsStacking = *o.AllowsStacking
				}
				p.Blocked = o.Blocked
			}
			positions = append(positions, p)
		}
	}
	return positions, nil
}

// BuildCatalog materializes every shelf in order.
func BuildCatalog(shelves []Shelf) ([]Position, error) {
	seen := make(map[string]struct{}, len(shelves))
	out := make([]Position, 0, len(shelves)*PositionsPerShelf)
	for _, s := range shelves {
		if _, dup := seen[s.ID]; dup {
			return nil, &InvalidShelfError{ShelfID: s.ID, Field: "id", Reason: "duplicate shelf id"}
		}
		seen[s.ID] = struct{}{}

		positions, err := BuildShelfPositions(s)
		if err != nil {
			return nil, err
		}
		out = append(out, positions...)
	}
	return out, nil
}

// ValidatePositions checks externally supplied position records.
func ValidatePositions(positions []Position) error {
	seen := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		invalid := func(field, reason string) error {
			return &InvalidShelfError{ShelfID: p.ShelfID, PositionID: p.ID, Field: field, Reason: reason}
		}
		if p.ID == "" {
			return invalid("id", "must not be empty")
		}
		if _, dup := seen[p.ID]; dup {
			return invalid("id", "duplicate position id")
		}
		seen[p.ID] = struct{}{}
		if p.Level < 0 {
			return invalid("level", fmt.Sprintf("must be >= 0, got %d", p.Level))
		}
		if p.GridX < 1 || p.GridX > GridColumns {
			return invalid("grid_x", fmt.Sprintf("must be in [1,%d], got %d", GridColumns, p.GridX))
		}
		if p.GridY < RowFront || p.GridY > RowBack {
			return invalid("grid_y", fmt.Sprintf("must be in [1,%d], got %d", GridRows, p.GridY))
		}
		if !(p.Accessibility > 0 && p.Accessibility <= 1) {
			return invalid("accessibility", fmt.Sprintf("must be in (0,1], got %v", p.Accessibility))
		}
		if !validWeight(p.MaxWeightKg) {
			return invalid("max_weight_kg", fmt.Sprintf("must be >= 0, got %v", p.MaxWeightKg))
		}
	}
	return nil
}

// validWeight accepts finite, non-negative capacities.
func validWeight(kg float64) bool {
	return kg >= 0 && !math.IsInf(kg, 1)
}

// positionLess orders positions by (aisle, shelf, row, column).
func positionLess(a, b *Position) bool {
	if a.AisleID != b.AisleID {
		return a.AisleID < b.AisleID
	}
	if a.ShelfID != b.ShelfID {
		return a.ShelfID < b.ShelfID
	}
	if a.GridY != b.GridY {
		return a.GridY < b.GridY
	}
	return a.GridX < b.GridX
}
