package engine

import (
	"sort"
	"time"
)

// PlanOptions parameterizes a run. AsOf is the reference date for expiry
// urgency and the placement date; the planner never reads the wall clock.
type PlanOptions struct {
	AsOf time.Time
}

// Planner produces placement plans with a single greedy pass.
type Planner struct {
	scorer *Scorer
}

// NewPlanner creates a planner using the given scorer.
func NewPlanner(scorer *Scorer) *Planner {
	return &Planner{scorer: scorer}
}

// Scorer returns the scorer used by the planner.
func (pl *Planner) Scorer() *Scorer {
	return pl.scorer
}

// slotPool is the run-local position arena and its occupancy bitmap.
type slotPool struct {
	slots    []Position
	occupied []bool
	free     int
}

func newSlotPool(positions []Position) *slotPool {
	slots := make([]Position, len(positions))
	copy(slots, positions)
	sort.SliceStable(slots, func(i, j int) bool { return positionLess(&slots[i], &slots[j]) })

	pool := &slotPool{slots: slots, occupied: make([]bool, len(slots))}
	for i := range slots {
		if slots[i].Blocked {
			pool.occupied[i] = true
			continue
		}
		pool.free++
	}
	return pool
}

func (sp *slotPool) take(i int) {
	sp.occupied[i] = true
	sp.free--
}

// assignment ties a placement back to its arena slot and batch.
type assignment struct {
	slot  int
	batch SequencedBatch
}

// Plan computes a complete placement plan. It fails only on malformed input;
// shortfalls are reported as unplaceable batches.
func (pl *Planner) Plan(meds []Medication, positions []Position, opts PlanOptions) (*Plan, error) {
	if err := ValidatePositions(positions); err != nil {
		return nil, err
	}
	if err := validateMedications(meds); err != nil {
		return nil, err
	}

	asOf := opts.AsOf.UTC()
	pool := newSlotPool(positions)
	plan := &Plan{
		AsOf:        asOf,
		Placements:  make([]Placement, 0),
		Unplaceable: make([]Unplaceable, 0),
	}

	for _, m := range prioritize(meds, asOf) {
		var assigned []assignment
		for _, sb := range SequenceBatches(m.Batches) {
			if pool.free == 0 {
				plan.Unplaceable = append(plan.Unplaceable, unplaceable(m, sb.Batch, UnplaceableCapacityExhausted))
				continue
			}

			urgency := UrgencyFor(sb.Batch.ExpiryDate, asOf)
			slot, reason := pl.bestSlot(m, urgency, sb.Tier, pool)
			if slot < 0 {
				plan.Unplaceable = append(plan.Unplaceable, unplaceable(m, sb.Batch, reason))
				continue
			}
			pool.take(slot)
			assigned = append(assigned, assignment{slot: slot, batch: sb})
		}

		for _, a := range rebalanceFIFO(assigned, pool.slots) {
			plan.Placements = append(plan.Placements, pl.placement(m, a, &pool.slots[a.slot], asOf))
		}
	}

	plan.Stats = summarize(meds, pool, plan)
	return plan, nil
}

// bestSlot scans every free slot and returns the highest scoring one. Ties go
// to the slot in the batch's FIFO tier, then to the first slot in
// (aisle, shelf, row, column) order, which is the arena order.
func (pl *Planner) bestSlot(m *Medication, urgency Urgency, tier Row, pool *slotPool) (int, UnplaceableReason) {
	best := -1
	bestScore := 0.0
	bestInTier := false
	allOverweight := true

	for i := range pool.slots {
		if pool.occupied[i] {
			continue
		}
		p := &pool.slots[i]
		bd := pl.scorer.Score(m, urgency, p)
		if bd.Incompatible != IncompatibleOverweight {
			allOverweight = false
		}

		score := bd.Total()
		inTier := p.GridY == tier
		if best < 0 || score > bestScore || (score == bestScore && inTier && !bestInTier) {
			best, bestScore, bestInTier = i, score, inTier
		}
	}

	if best < 0 || bestScore <= SentinelScore {
		if pl.fitsTakenSlot(m, urgency, pool) {
			return -1, UnplaceableCapacityExhausted
		}
		if allOverweight {
			return -1, UnplaceableOverweight
		}
		return -1, UnplaceableNoCompatible
	}
	return best, ""
}

// fitsTakenSlot reports whether a slot already taken in this run would have
// accepted m, i.e. the batch lost to capacity rather than to compatibility.
func (pl *Planner) fitsTakenSlot(m *Medication, urgency Urgency, pool *slotPool) bool {
	for i := range pool.slots {
		p := &pool.slots[i]
		if !pool.occupied[i] || p.Blocked {
			continue
		}
		if pl.scorer.Score(m, urgency, p).Total() > SentinelScore {
			return true
		}
	}
	return false
}

// rebalanceFIFO re-deals the slots a medication received so that older
// batches never sit deeper than newer ones. Slots are ordered by row with
// the greedy order kept within a row, so an already consistent assignment is
// left untouched.
func rebalanceFIFO(assigned []assignment, slots []Position) []assignment {
	if len(assigned) < 2 {
		return assigned
	}
	ordered := make([]int, len(assigned))
	for i, a := range assigned {
		ordered[i] = a.slot
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return slots[ordered[i]].GridY < slots[ordered[j]].GridY
	})

	out := make([]assignment, len(assigned))
	for i, a := range assigned {
		out[i] = assignment{slot: ordered[i], batch: a.batch}
	}
	return out
}

func (pl *Planner) placement(m *Medication, a assignment, p *Position, asOf time.Time) Placement {
	urgency := UrgencyFor(a.batch.Batch.ExpiryDate, asOf)
	bd := pl.scorer.Score(m, urgency, p)
	return Placement{
		MedicationID:  m.ID,
		BatchID:       a.batch.Batch.ID,
		PositionID:    p.ID,
		ShelfID:       p.ShelfID,
		AisleID:       p.AisleID,
		GridX:         p.GridX,
		GridY:         p.GridY,
		Quantity:      a.batch.Batch.Quantity,
		PlacementDate: asOf,
		Reason:        placementReason(bd, p, a.batch.Tier),
		Score:         bd.Total(),
		Breakdown:     bd,
		Tier:          a.batch.Tier,
		Urgency:       urgency,
	}
}

func placementReason(bd Breakdown, p *Position, tier Row) PlacementReason {
	switch {
	case bd.Velocity > 0 && p.IsGoldenZone:
		return ReasonGoldenZone
	case bd.Velocity > 0:
		return ReasonVelocityMatch
	case p.GridY == tier:
		return ReasonFIFOTier
	default:
		return ReasonBestAvailable
	}
}

func unplaceable(m *Medication, b Batch, reason UnplaceableReason) Unplaceable {
	return Unplaceable{
		MedicationID: m.ID,
		BatchID:      b.ID,
		Quantity:     b.Quantity,
		Reason:       reason,
	}
}

// prioritize orders medications by (velocity, class A, has critical batch),
// highest first, falling back to id so equal keys stay deterministic.
func prioritize(meds []Medication, asOf time.Time) []*Medication {
	type keyed struct {
		med      *Medication
		classA   bool
		critical bool
	}
	ks := make([]keyed, len(meds))
	for i := range meds {
		m := &meds[i]
		ks[i] = keyed{med: m, classA: m.ABC == ClassA, critical: m.MostUrgent(asOf) == UrgencyCritical}
	}

	sort.SliceStable(ks, func(i, j int) bool {
		a, b := ks[i], ks[j]
		if a.med.VelocityScore != b.med.VelocityScore {
			return a.med.VelocityScore > b.med.VelocityScore
		}
		if a.classA != b.classA {
			return a.classA
		}
		if a.critical != b.critical {
			return a.critical
		}
		return a.med.ID < b.med.ID
	})

	out := make([]*Medication, len(ks))
	for i, k := range ks {
		out[i] = k.med
	}
	return out
}

func summarize(meds []Medication, pool *slotPool, plan *Plan) Stats {
	s := Stats{Medications: len(meds)}
	for i := range meds {
		s.Batches += len(meds[i].Batches)
		s.InputQuantity += meds[i].TotalQuantity()
	}
	for i := range pool.slots {
		if !pool.slots[i].Blocked {
			s.Positions++
		}
	}
	s.PositionsUsed = len(plan.Placements)
	for _, p := range plan.Placements {
		s.PlacedQuantity += p.Quantity
	}
	for _, u := range plan.Unplaceable {
		s.UnplaceableQuantity += u.Quantity
	}
	return s
}

// validateMedications re-checks the invariants NormalizeMedication establishes,
// for callers that build Medication values directly.
func validateMedications(meds []Medication) error {
	seen := make(map[string]struct{}, len(meds))
	for i := range meds {
		m := &meds[i]
		if _, dup := seen[m.ID]; dup || m.ID == "" {
			return &InvalidAttributeError{MedicationID: m.ID, Field: "id", Reason: "missing or duplicate medication id"}
		}
		seen[m.ID] = struct{}{}
		if m.VelocityScore < 0 {
			return &InvalidAttributeError{MedicationID: m.ID, Field: "velocity_score", Reason: "must be >= 0"}
		}
		if m.WeightKg <= 0 {
			return &InvalidAttributeError{MedicationID: m.ID, Field: "weight_kg", Reason: "must be > 0"}
		}
		if m.Movement != MovementFor(m.VelocityScore) {
			return &InvalidAttributeError{MedicationID: m.ID, Field: "movement_category", Reason: "inconsistent with velocity_score"}
		}
		for _, b := range m.Batches {
			if b.Quantity <= 0 {
				return &InvalidAttributeError{MedicationID: m.ID, BatchID: b.ID, Field: "quantity", Reason: "must be > 0"}
			}
		}
	}
	return nil
}

// Candidate is one ranked position for a medication batch.
type Candidate struct {
	Position  Position  `json:"position"`
	Breakdown Breakdown `json:"breakdown"`
	Score     float64   `json:"score"`
	Rank      int       `json:"rank"`
}

// Candidates ranks the free positions for a batch of m with the given urgency
// using the same ordering the planner applies. Occupied positions (by id) and
// blocked positions are skipped. A limit <= 0 returns every candidate.
func (pl *Planner) Candidates(m *Medication, urgency Urgency, positions []Position, occupied map[string]bool, limit int) []Candidate {
	pool := newSlotPool(positions)
	out := make([]Candidate, 0, pool.free)
	for i := range pool.slots {
		p := pool.slots[i]
		if pool.occupied[i] || occupied[p.ID] {
			continue
		}
		bd := pl.scorer.Score(m, urgency, &p)
		out = append(out, Candidate{Position: p, Breakdown: bd, Score: bd.Total()})
	}

	// The pool is already in tie-break order, so a stable sort on score keeps it.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
