package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/medflow/medflow-slotting/internal/slotting/engine"
	"github.com/medflow/medflow-slotting/pkg/database"
	"github.com/medflow/medflow-slotting/pkg/errors"
	"github.com/medflow/medflow-slotting/pkg/tenant"
	"github.com/shopspring/decimal"
)

// Snapshot is the whole planning input of one tenant, read in one transaction.
type Snapshot struct {
	Medications []engine.RawMedication
	Shelves     []engine.Shelf
}

type medicationRow struct {
	ID                     string          `db:"id"`
	Name                   string          `db:"name"`
	UsagePattern           string          `db:"usage_pattern"`
	StorageCategory        string          `db:"storage_category"`
	VelocityScore          decimal.Decimal `db:"velocity_score"`
	WeightKg               decimal.Decimal `db:"weight_kg"`
	VolumeCm3              decimal.Decimal `db:"volume_cm3"`
	Fragility              string          `db:"fragility"`
	RequiresRefrigeration  bool            `db:"requires_refrigeration"`
	RequiresSecurity       bool            `db:"requires_security"`
	LightSensitive         bool            `db:"light_sensitive"`
	HumiditySensitive      bool            `db:"humidity_sensitive"`
	BatchPickingCompatible bool            `db:"batch_picking_compatible"`
}

func (r medicationRow) toRaw() engine.RawMedication {
	return engine.RawMedication{
		ID:                     r.ID,
		Name:                   r.Name,
		Usage:                  r.UsagePattern,
		StorageCategory:        r.StorageCategory,
		VelocityScore:          r.VelocityScore.InexactFloat64(),
		WeightKg:               r.WeightKg.InexactFloat64(),
		VolumeCm3:              r.VolumeCm3.InexactFloat64(),
		Fragility:              r.Fragility,
		RequiresRefrigeration:  r.RequiresRefrigeration,
		RequiresSecurity:       r.RequiresSecurity,
		LightSensitive:         r.LightSensitive,
		HumiditySensitive:      r.HumiditySensitive,
		BatchPickingCompatible: r.BatchPickingCompatible,
	}
}

type batchRow struct {
	ID           string    `db:"id"`
	MedicationID string    `db:"medication_id"`
	BatchNumber  string    `db:"batch_number"`
	Quantity     int       `db:"quantity"`
	ExpiryDate   time.Time `db:"expiry_date"`
}

type shelfRow struct {
	ID             string          `db:"id"`
	AisleID        string          `db:"aisle_id"`
	Level          int             `db:"level"`
	MaxWeightKg    decimal.Decimal `db:"max_weight_kg"`
	AllowsStacking bool            `db:"allows_stacking"`
	ReservedFor    sql.NullString  `db:"reserved_for"`
}

type overrideRow struct {
	ShelfID        string              `db:"shelf_id"`
	GridX          int                 `db:"grid_x"`
	GridY          int                 `db:"grid_y"`
	ReservedFor    *string             `db:"reserved_for"`
	MaxWeightKg    decimal.NullDecimal `db:"max_weight_kg"`
	AllowsStacking *bool               `db:"allows_stacking"`
	Blocked        bool                `db:"blocked"`
}

const (
	selectMedications = `
		SELECT id, name, usage_pattern, storage_category, velocity_score, weight_kg, volume_cm3,
			fragility, requires_refrigeration, requires_security, light_sensitive,
			humidity_sensitive, batch_picking_compatible
		FROM medications WHERE is_active = TRUE`

	selectBatches = `
		SELECT b.id, b.medication_id, b.batch_number, b.quantity, b.expiry_date
		FROM medication_batches b
		JOIN medications m ON m.id = b.medication_id AND m.is_active = TRUE
		WHERE b.is_active = TRUE AND b.quantity > 0`

	selectShelves = `
		SELECT id, aisle_id, level, max_weight_kg, allows_stacking, reserved_for
		FROM storage_shelves WHERE is_active = TRUE
		ORDER BY aisle_id, id`

	selectOverrides = `
		SELECT o.shelf_id, o.grid_x, o.grid_y, o.reserved_for, o.max_weight_kg, o.allows_stacking, o.blocked
		FROM shelf_position_overrides o
		JOIN storage_shelves s ON s.id = o.shelf_id AND s.is_active = TRUE
		ORDER BY o.shelf_id, o.grid_y, o.grid_x`
)

// SnapshotRepository reads medications, batches and shelves.
type SnapshotRepository struct {
	db *database.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *database.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// TENANT-ISOLATED: Loads medications and shelves in one RLS transaction
func (r *SnapshotRepository) Load(ctx context.Context) (*Snapshot, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		meds, err := r.LoadMedications(ctx)
		if err != nil {
			return err
		}
		shelves, err := r.LoadShelves(ctx)
		if err != nil {
			return err
		}
		snap = Snapshot{Medications: meds, Shelves: shelves}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// TENANT-ISOLATED: Returns active medications with their non-empty batches
func (r *SnapshotRepository) LoadMedications(ctx context.Context) ([]engine.RawMedication, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var meds []engine.RawMedication
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		var rows []medicationRow
		if err := r.db.Conn(ctx).SelectContext(ctx, &rows, selectMedications+` ORDER BY id`); err != nil {
			return err
		}
		var batches []batchRow
		if err := r.db.Conn(ctx).SelectContext(ctx, &batches, selectBatches+` ORDER BY b.medication_id, b.expiry_date, b.id`); err != nil {
			return err
		}
		meds = assembleMedications(rows, batches)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meds, nil
}

// TENANT-ISOLATED: Returns one active medication with its batches
func (r *SnapshotRepository) GetMedication(ctx context.Context, id string) (*engine.RawMedication, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var med engine.RawMedication
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		var row medicationRow
		if err := r.db.Conn(ctx).GetContext(ctx, &row, selectMedications+` AND id = $1`, id); err != nil {
			return err
		}
		var batches []batchRow
		if err := r.db.Conn(ctx).SelectContext(ctx, &batches, selectBatches+` AND b.medication_id = $1 ORDER BY b.expiry_date, b.id`, id); err != nil {
			return err
		}
		med = assembleMedications([]medicationRow{row}, batches)[0]
		return nil
	})

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("medication")
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

// TENANT-ISOLATED: Returns active shelves with their position overrides
func (r *SnapshotRepository) LoadShelves(ctx context.Context) ([]engine.Shelf, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var shelves []engine.Shelf
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		var rows []shelfRow
		if err := r.db.Conn(ctx).SelectContext(ctx, &rows, selectShelves); err != nil {
			return err
		}
		var overrides []overrideRow
		if err := r.db.Conn(ctx).SelectContext(ctx, &overrides, selectOverrides); err != nil {
			return err
		}
		shelves = assembleShelves(rows, overrides)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shelves, nil
}

func assembleMedications(rows []medicationRow, batches []batchRow) []engine.RawMedication {
	byMed := make(map[string][]engine.RawBatch, len(rows))
	for _, b := range batches {
		byMed[b.MedicationID] = append(byMed[b.MedicationID], engine.RawBatch{
			ID:          b.ID,
			BatchNumber: b.BatchNumber,
			Quantity:    b.Quantity,
			ExpiryDate:  b.ExpiryDate.UTC(),
		})
	}

	meds := make([]engine.RawMedication, 0, len(rows))
	for _, row := range rows {
		raw := row.toRaw()
		raw.Batches = byMed[row.ID]
		meds = append(meds, raw)
	}
	return meds
}

func assembleShelves(rows []shelfRow, overrides []overrideRow) []engine.Shelf {
	byShelf := make(map[string][]engine.PositionOverride, len(rows))
	for _, o := range overrides {
		po := engine.PositionOverride{
			GridX:          o.GridX,
			GridY:          o.GridY,
			ReservedFor:    o.ReservedFor,
			AllowsStacking: o.AllowsStacking,
			Blocked:        o.Blocked,
		}
		if o.MaxWeightKg.Valid {
			w := o.MaxWeightKg.Decimal.InexactFloat64()
			po.MaxWeightKg = &w
		}
		byShelf[o.ShelfID] = append(byShelf[o.ShelfID], po)
	}

	shelves := make([]engine.Shelf, 0, len(rows))
	for _, row := range rows {
		shelves = append(shelves, engine.Shelf{
			ID:             row.ID,
			AisleID:        row.AisleID,
			Level:          row.Level,
			MaxWeightKg:    row.MaxWeightKg.InexactFloat64(),
			AllowsStacking: row.AllowsStacking,
			ReservedFor:    row.ReservedFor.String,
			Overrides:      byShelf[row.ID],
		})
	}
	return shelves
}
