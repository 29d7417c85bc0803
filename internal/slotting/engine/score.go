package engine

// SentinelScore marks a hard-incompatible pair. The planner never assigns a
// position whose best score is at or below it.
const SentinelScore = -50.0

// Incompatibility explains why a pair can never be assigned.
type Incompatibility string

const (
	Compatible             Incompatibility = ""
	IncompatibleOverweight Incompatibility = "overweight"
	IncompatibleStorage    Incompatibility = "storage_class"
)

// Weights holds the point values of every sub-score.
type Weights struct {
	FastFront          float64 `json:"fast_front"`
	GoldenZoneBonus    float64 `json:"golden_zone_bonus"`
	MediumMiddle       float64 `json:"medium_middle"`
	SlowBack           float64 `json:"slow_back"`
	WeightLight        float64 `json:"weight_light"`
	WeightMedium       float64 `json:"weight_medium"`
	WeightHeavy        float64 `json:"weight_heavy"`
	OverweightPenalty  float64 `json:"overweight_penalty"`
	ExpiryCritical     float64 `json:"expiry_critical"`
	ExpirySoon         float64 `json:"expiry_soon"`
	ExpiryDefault      float64 `json:"expiry_default"`
	ClassA             float64 `json:"class_a"`
	ClassB             float64 `json:"class_b"`
	ClassC             float64 `json:"class_c"`
	ControlledSecurity float64 `json:"controlled_security"`
	FragileNoStacking  float64 `json:"fragile_no_stacking"`
}

// DefaultWeights returns the standard point budget.
func DefaultWeights() Weights {
	return Weights{
		FastFront:          40,
		GoldenZoneBonus:    20,
		MediumMiddle:       30,
		SlowBack:           30,
		WeightLight:        20,
		WeightMedium:       15,
		WeightHeavy:        10,
		OverweightPenalty:  -50,
		ExpiryCritical:     20,
		ExpirySoon:         15,
		ExpiryDefault:      10,
		ClassA:             10,
		ClassB:             8,
		ClassC:             5,
		ControlledSecurity: 10,
		FragileNoStacking:  5,
	}
}

// Weight and accessibility cut-offs used by the sub-scores.
const (
	lightWeightKg       = 5
	mediumWeightKg      = 15
	classAAccessibility = 0.8
	classBAccessibility = 0.5
)

// Breakdown is the per-criterion score of a (medication, position) pair.
type Breakdown struct {
	Velocity     float64         `json:"velocity"`
	Weight       float64         `json:"weight"`
	Expiry       float64         `json:"expiry"`
	ABC          float64         `json:"abc"`
	Special      float64         `json:"special"`
	Incompatible Incompatibility `json:"incompatible,omitempty"`
}

// Total is the unweighted sum of sub-scores, or SentinelScore when the pair is
// hard-incompatible.
func (b Breakdown) Total() float64 {
	if b.Incompatible != Compatible {
		return SentinelScore
	}
	return b.Velocity + b.Weight + b.Expiry + b.ABC + b.Special
}

// Scorer ranks positions for a medication batch.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights.
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Weights returns the point values in use.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score computes the compatibility of placing a batch with the given urgency
// at p. It never fails; hard incompatibilities are reported in the breakdown.
func (s *Scorer) Score(m *Medication, urgency Urgency, p *Position) Breakdown {
	w := s.weights
	var b Breakdown

	switch {
	case m.Movement == MovementFast && p.GridY == RowFront:
		b.Velocity = w.FastFront
		if p.IsGoldenZone {
			b.Velocity += w.GoldenZoneBonus
		}
	case m.Movement == MovementMedium && p.GridY == RowMiddle:
		b.Velocity = w.MediumMiddle
	case m.Movement == MovementSlow && p.GridY == RowBack:
		b.Velocity = w.SlowBack
	}

	overweight := p.MaxWeightKg < m.WeightKg
	switch {
	case overweight:
		b.Weight = w.OverweightPenalty
		b.Incompatible = IncompatibleOverweight
	case m.WeightKg < lightWeightKg:
		b.Weight = w.WeightLight
	case m.WeightKg < mediumWeightKg:
		b.Weight = w.WeightMedium
	default:
		b.Weight = w.WeightHeavy
	}

	switch {
	case urgency == UrgencyCritical && p.GridY == RowFront:
		b.Expiry = w.ExpiryCritical
	case urgency == UrgencySoon && (p.GridY == RowFront || p.GridY == RowMiddle):
		b.Expiry = w.ExpirySoon
	default:
		b.Expiry = w.ExpiryDefault
	}

	switch m.ABC {
	case ClassA:
		if p.Accessibility > classAAccessibility {
			b.ABC = w.ClassA
		}
	case ClassB:
		if p.Accessibility > classBAccessibility {
			b.ABC = w.ClassB
		}
	default:
		b.ABC = w.ClassC
	}

	if m.RequiresSecurity && p.ReservedFor == ReservedControlled {
		b.Special += w.ControlledSecurity
	}
	if m.Fragility == FragilityHigh && !p.AllowsStacking {
		b.Special += w.FragileNoStacking
	}

	if !overweight && !storageCompatible(m, p) {
		b.Incompatible = IncompatibleStorage
	}
	return b
}

// storageCompatible enforces segregation: cold-chain stock only on refrigerated
// slots, quarantined stock only on quarantine slots and nothing else there.
func storageCompatible(m *Medication, p *Position) bool {
	if m.RequiresRefrigeration && p.ReservedFor != ReservedRefrigerated {
		return false
	}
	quarantined := m.Category == CategoryQuarantine
	if quarantined != (p.ReservedFor == ReservedQuarantine) {
		return false
	}
	return true
}
