// Package engine computes medication slotting plans: which batch goes into
// which shelf position. Everything in this package is pure and deterministic;
// callers hand in a complete snapshot and receive a Plan back.
package engine

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Movement thresholds on the 0-100 velocity scale.
const (
	fastVelocityThreshold   = 70
	mediumVelocityThreshold = 30
	abcVelocityThreshold    = 50
	stackableWeightLimitKg  = 10
	maxVelocityScore        = 100
)

// Expiry urgency windows in days.
const (
	criticalExpiryDays = 30
	soonExpiryDays     = 90
	normalExpiryDays   = 180
)

// MovementCategory classifies a medication by pick velocity.
type MovementCategory int

const (
	MovementSlow MovementCategory = iota
	MovementMedium
	MovementFast
)

func (m MovementCategory) String() string {
	switch m {
	case MovementFast:
		return "fast"
	case MovementMedium:
		return "medium"
	default:
		return "slow"
	}
}

// MovementFor maps a velocity score onto its movement category.
func MovementFor(velocity float64) MovementCategory {
	switch {
	case velocity > fastVelocityThreshold:
		return MovementFast
	case velocity > mediumVelocityThreshold:
		return MovementMedium
	default:
		return MovementSlow
	}
}

// UsagePattern is the prescribing pattern of a medication.
type UsagePattern int

const (
	UsageSporadic UsagePattern = iota
	UsageIntermittent
	UsageChronic
)

func (u UsagePattern) String() string {
	switch u {
	case UsageChronic:
		return "chronic"
	case UsageIntermittent:
		return "intermittent"
	default:
		return "sporadic"
	}
}

// Category is the storage class of a medication, resolved once during
// normalization so the scorer never inspects raw strings.
type Category int

const (
	CategoryGeneral Category = iota
	CategoryRefrigerated
	CategoryControlled
	CategoryQuarantine
	CategoryOffice
)

func (c Category) String() string {
	switch c {
	case CategoryRefrigerated:
		return "refrigerated"
	case CategoryControlled:
		return "controlled"
	case CategoryQuarantine:
		return "quarantine"
	case CategoryOffice:
		return "office"
	default:
		return "general"
	}
}

// Fragility of the packaging.
type Fragility int

const (
	FragilityLow Fragility = iota
	FragilityMedium
	FragilityHigh
)

func (f Fragility) String() string {
	switch f {
	case FragilityHigh:
		return "high"
	case FragilityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ABCClass is the inventory priority tier.
type ABCClass int

const (
	ClassC ABCClass = iota
	ClassB
	ClassA
)

func (c ABCClass) String() string {
	switch c {
	case ClassA:
		return "A"
	case ClassB:
		return "B"
	default:
		return "C"
	}
}

// Urgency of a batch derived from its days to expiry.
type Urgency int

const (
	UrgencyLong Urgency = iota
	UrgencyNormal
	UrgencySoon
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyCritical:
		return "critical"
	case UrgencySoon:
		return "soon"
	case UrgencyNormal:
		return "normal"
	default:
		return "long"
	}
}

// UrgencyFor classifies a batch expiry relative to asOf. Expired batches are critical.
func UrgencyFor(expiry, asOf time.Time) Urgency {
	days := DaysToExpiry(expiry, asOf)
	switch {
	case days <= criticalExpiryDays:
		return UrgencyCritical
	case days <= soonExpiryDays:
		return UrgencySoon
	case days <= normalExpiryDays:
		return UrgencyNormal
	default:
		return UrgencyLong
	}
}

// DaysToExpiry counts whole calendar days between asOf and expiry in UTC.
func DaysToExpiry(expiry, asOf time.Time) int {
	e := truncateDay(expiry)
	a := truncateDay(asOf)
	return int(math.Floor(e.Sub(a).Hours() / 24))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RawBatch is a batch record as supplied by persistence.
type RawBatch struct {
	ID          string    `json:"id"`
	BatchNumber string    `json:"batch_number"`
	Quantity    int       `json:"quantity"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

// RawMedication is a medication record as supplied by persistence.
type RawMedication struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	Usage                  string     `json:"usage"`
	StorageCategory        string     `json:"storage_category"`
	VelocityScore          float64    `json:"velocity_score"`
	WeightKg               float64    `json:"weight_kg"`
	VolumeCm3              float64    `json:"volume_cm3"`
	Fragility              string     `json:"fragility"`
	RequiresRefrigeration  bool       `json:"requires_refrigeration"`
	RequiresSecurity       bool       `json:"requires_security"`
	LightSensitive         bool       `json:"light_sensitive"`
	HumiditySensitive      bool       `json:"humidity_sensitive"`
	BatchPickingCompatible bool       `json:"batch_picking_compatible"`
	Batches                []RawBatch `json:"batches"`
}

// Batch is a validated batch belonging to exactly one medication.
type Batch struct {
	ID           string    `json:"id"`
	MedicationID string    `json:"medication_id"`
	BatchNumber  string    `json:"batch_number"`
	Quantity     int       `json:"quantity"`
	ExpiryDate   time.Time `json:"expiry_date"`
}

// Medication carries the canonical, scoring-ready attribute set.
type Medication struct {
	ID                     string           `json:"id"`
	Name                   string           `json:"name"`
	Usage                  UsagePattern     `json:"usage"`
	Category               Category         `json:"category"`
	VelocityScore          float64          `json:"velocity_score"`
	Movement               MovementCategory `json:"movement_category"`
	WeightKg               float64          `json:"weight_kg"`
	VolumeCm3              float64          `json:"volume_cm3"`
	Fragility              Fragility        `json:"fragility"`
	Stackable              bool             `json:"stackable"`
	RequiresRefrigeration  bool             `json:"requires_refrigeration"`
	RequiresSecurity       bool             `json:"requires_security"`
	LightSensitive         bool             `json:"light_sensitive"`
	HumiditySensitive      bool             `json:"humidity_sensitive"`
	ABC                    ABCClass         `json:"abc_classification"`
	BatchPickingCompatible bool             `json:"batch_picking_compatible"`
	Batches                []Batch          `json:"batches"`
}

// ClassifyABC applies the usage/velocity rule: chronic with velocity above 50
// is A, intermittent is B, everything else C.
func ClassifyABC(usage UsagePattern, velocity float64) ABCClass {
	switch {
	case usage == UsageChronic && velocity > abcVelocityThreshold:
		return ClassA
	case usage == UsageIntermittent:
		return ClassB
	default:
		return ClassC
	}
}

// NormalizeMedication validates a raw record and derives its attributes.
func NormalizeMedication(raw RawMedication) (Medication, error) {
	invalid := func(field, reason string) error {
		return &InvalidAttributeError{MedicationID: raw.ID, Field: field, Reason: reason}
	}

	if strings.TrimSpace(raw.ID) == "" {
		return Medication{}, invalid("id", "must not be empty")
	}
	if raw.VelocityScore < 0 || math.IsNaN(raw.VelocityScore) {
		return Medication{}, invalid("velocity_score", fmt.Sprintf("must be >= 0, got %v", raw.VelocityScore))
	}
	if raw.WeightKg <= 0 || math.IsNaN(raw.WeightKg) {
		return Medication{}, invalid("weight_kg", fmt.Sprintf("must be > 0, got %v", raw.WeightKg))
	}
	if raw.VolumeCm3 < 0 {
		return Medication{}, invalid("volume_cm3", fmt.Sprintf("must be >= 0, got %v", raw.VolumeCm3))
	}

	usage, ok := parseUsage(raw.Usage)
	if !ok {
		return Medication{}, invalid("usage", fmt.Sprintf("unknown usage pattern %q", raw.Usage))
	}
	category, ok := ParseCategory(raw.StorageCategory)
	if !ok {
		return Medication{}, invalid("storage_category", fmt.Sprintf("unknown category %q", raw.StorageCategory))
	}
	fragility, ok := parseFragility(raw.Fragility)
	if !ok {
		return Medication{}, invalid("fragility", fmt.Sprintf("unknown fragility %q", raw.Fragility))
	}

	velocity := math.Min(raw.VelocityScore, maxVelocityScore)

	med := Medication{
		ID:                     raw.ID,
		Name:                   raw.Name,
		Usage:                  usage,
		Category:               category,
		VelocityScore:          velocity,
		Movement:               MovementFor(velocity),
		WeightKg:               raw.WeightKg,
		VolumeCm3:              raw.VolumeCm3,
		Fragility:              fragility,
		Stackable:              raw.WeightKg < stackableWeightLimitKg,
		RequiresRefrigeration:  raw.RequiresRefrigeration || category == CategoryRefrigerated,
		RequiresSecurity:       raw.RequiresSecurity || category == CategoryControlled,
		LightSensitive:         raw.LightSensitive,
		HumiditySensitive:      raw.HumiditySensitive,
		ABC:                    ClassifyABC(usage, velocity),
		BatchPickingCompatible: raw.BatchPickingCompatible,
		Batches:                make([]Batch, 0, len(raw.Batches)),
	}

	seen := make(map[string]struct{}, len(raw.Batches))
	for _, rb := range raw.Batches {
		if strings.TrimSpace(rb.ID) == "" {
			return Medication{}, invalid("batch.id", "must not be empty")
		}
		if _, dup := seen[rb.ID]; dup {
			return Medication{}, &InvalidAttributeError{MedicationID: raw.ID, BatchID: rb.ID, Field: "batch.id", Reason: "duplicate batch id"}
		}
		seen[rb.ID] = struct{}{}
		if rb.Quantity <= 0 {
			return Medication{}, &InvalidAttributeError{MedicationID: raw.ID, BatchID: rb.ID, Field: "quantity", Reason: fmt.Sprintf("must be > 0, got %d", rb.Quantity)}
		}
		if rb.ExpiryDate.IsZero() {
			return Medication{}, &InvalidAttributeError{MedicationID: raw.ID, BatchID: rb.ID, Field: "expiry_date", Reason: "must be set"}
		}
		med.Batches = append(med.Batches, Batch{
			ID:           rb.ID,
			MedicationID: raw.ID,
			BatchNumber:  rb.BatchNumber,
			Quantity:     rb.Quantity,
			ExpiryDate:   rb.ExpiryDate.UTC(),
		})
	}

	return med, nil
}

// NormalizeCatalog normalizes every record and rejects duplicate medication ids.
// The first invalid record aborts the whole catalog.
func NormalizeCatalog(raws []RawMedication) ([]Medication, error) {
	meds := make([]Medication, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		if _, dup := seen[raw.ID]; dup {
			return nil, &InvalidAttributeError{MedicationID: raw.ID, Field: "id", Reason: "duplicate medication id"}
		}
		seen[raw.ID] = struct{}{}

		med, err := NormalizeMedication(raw)
		if err != nil {
			return nil, err
		}
		meds = append(meds, med)
	}
	return meds, nil
}

// MostUrgent returns the highest urgency across the medication's batches.
func (m *Medication) MostUrgent(asOf time.Time) Urgency {
	most := UrgencyLong
	for _, b := range m.Batches {
		if u := UrgencyFor(b.ExpiryDate, asOf); u > most {
			most = u
		}
	}
	return most
}

// TotalQuantity sums the quantity over all batches.
func (m *Medication) TotalQuantity() int {
	total := 0
	for _, b := range m.Batches {
		total += b.Quantity
	}
	return total
}

func parseUsage(s string) (UsagePattern, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sporadic":
		return UsageSporadic, true
	case "intermittent":
		return UsageIntermittent, true
	case "chronic":
		return UsageChronic, true
	}
	return UsageSporadic, false
}

// ParseCategory resolves a storage category name; empty means general.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "general":
		return CategoryGeneral, true
	case "refrigerated":
		return CategoryRefrigerated, true
	case "controlled":
		return CategoryControlled, true
	case "quarantine":
		return CategoryQuarantine, true
	case "office":
		return CategoryOffice, true
	}
	return CategoryGeneral, false
}

func parseFragility(s string) (Fragility, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "low":
		return FragilityLow, true
	case "medium":
		return FragilityMedium, true
	case "high":
		return FragilityHigh, true
	}
	return FragilityLow, false
}

func (m MovementCategory) MarshalText() ([]byte, error) { return []byte(m.String()), nil }
func (u UsagePattern) MarshalText() ([]byte, error)     { return []byte(u.String()), nil }
func (c Category) MarshalText() ([]byte, error)         { return []byte(c.String()), nil }
func (f Fragility) MarshalText() ([]byte, error)        { return []byte(f.String()), nil }
func (c ABCClass) MarshalText() ([]byte, error)         { return []byte(c.String()), nil }
func (u Urgency) MarshalText() ([]byte, error)          { return []byte(u.String()), nil }
