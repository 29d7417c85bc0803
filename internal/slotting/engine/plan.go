package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// PlacementReason explains why a position was chosen.
type PlacementReason string

const (
	ReasonGoldenZone    PlacementReason = "golden_zone"
	ReasonVelocityMatch PlacementReason = "velocity_match"
	ReasonFIFOTier      PlacementReason = "fifo_tier"
	ReasonBestAvailable PlacementReason = "best_available"
)

// UnplaceableReason explains why a batch received no position.
type UnplaceableReason string

const (
	UnplaceableOverweight        UnplaceableReason = "overweight"
	UnplaceableCapacityExhausted UnplaceableReason = "capacity_exhausted"
	UnplaceableNoCompatible      UnplaceableReason = "no_compatible_position"
)

// Placement links one batch to exactly one position.
type Placement struct {
	MedicationID  string          `json:"medication_id"`
	BatchID       string          `json:"batch_id"`
	PositionID    string          `json:"position_id"`
	ShelfID       string          `json:"shelf_id"`
	AisleID       string          `json:"aisle_id"`
	GridX         int             `json:"grid_x"`
	GridY         Row             `json:"grid_y"`
	Quantity      int             `json:"quantity"`
	PlacementDate time.Time       `json:"placement_date"`
	Reason        PlacementReason `json:"reason"`
	Score         float64         `json:"score"`
	Breakdown     Breakdown       `json:"breakdown"`
	Tier          Row             `json:"fifo_tier"`
	Urgency       Urgency         `json:"urgency"`
}

// Unplaceable is a batch the planner could not put anywhere.
type Unplaceable struct {
	MedicationID string            `json:"medication_id"`
	BatchID      string            `json:"batch_id"`
	Quantity     int               `json:"quantity"`
	Reason       UnplaceableReason `json:"reason"`
}

// Stats summarizes a run. InputQuantity always equals PlacedQuantity plus
// UnplaceableQuantity.
type Stats struct {
	Medications         int `json:"medications"`
	Batches             int `json:"batches"`
	Positions           int `json:"positions"`
	PositionsUsed       int `json:"positions_used"`
	InputQuantity       int `json:"input_quantity"`
	PlacedQuantity      int `json:"placed_quantity"`
	UnplaceableQuantity int `json:"unplaceable_quantity"`
}

// Plan is the complete output of one planning run.
type Plan struct {
	AsOf        time.Time     `json:"as_of"`
	Placements  []Placement   `json:"placements"`
	Unplaceable []Unplaceable `json:"unplaceable"`
	Stats       Stats         `json:"stats"`
}

// layoutEntry is the date-independent identity of a placement.
type layoutEntry struct {
	MedicationID string `json:"m"`
	BatchID      string `json:"b"`
	PositionID   string `json:"p,omitempty"`
	Quantity     int    `json:"q"`
	Reason       string `json:"r"`
}

// Fingerprint hashes the layout (who sits where, what is left over) while
// ignoring dates and scores, so re-planning an unchanged snapshot on a later
// day yields the same value.
func (p *Plan) Fingerprint() string {
	entries := make([]layoutEntry, 0, len(p.Placements)+len(p.Unplaceable))
	for _, pl := range p.Placements {
		entries = append(entries, layoutEntry{pl.MedicationID, pl.BatchID, pl.PositionID, pl.Quantity, string(pl.Reason)})
	}
	for _, u := range p.Unplaceable {
		entries = append(entries, layoutEntry{u.MedicationID, u.BatchID, "", u.Quantity, string(u.Reason)})
	}
	// Marshalling a slice of plain structs cannot fail.
	body, _ := json.Marshal(entries)
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// PlacementFor returns the placement of a batch, if any.
func (p *Plan) PlacementFor(batchID string) (Placement, bool) {
	for _, pl := range p.Placements {
		if pl.BatchID == batchID {
			return pl, true
		}
	}
	return Placement{}, false
}

// UnplaceableFor returns the unplaceable entry of a batch, if any.
func (p *Plan) UnplaceableFor(batchID string) (Unplaceable, bool) {
	for _, u := range p.Unplaceable {
		if u.BatchID == batchID {
			return u, true
		}
	}
	return Unplaceable{}, false
}
