package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/medflow/medflow-slotting/internal/slotting/engine"
	"github.com/medflow/medflow-slotting/pkg/database"
	"github.com/medflow/medflow-slotting/pkg/errors"
	"github.com/medflow/medflow-slotting/pkg/tenant"
	"github.com/shopspring/decimal"
)

// ErrPlanUnchanged is returned by ReplacePlan when the latest stored run
// already has the plan's fingerprint.
var ErrPlanUnchanged = stderrors.New("plan unchanged")

// insertBatchSize keeps multi-row inserts well under the 65535 bind limit.
const insertBatchSize = 500

// PlanRun is the record of one persisted planning run
type PlanRun struct {
	ID                  string    `db:"id" json:"id"`
	TenantID            string    `db:"tenant_id" json:"-"`
	AsOf                time.Time `db:"as_of" json:"as_of"`
	Trigger             string    `db:"trigger" json:"trigger"`
	TriggeredBy         string    `db:"triggered_by" json:"triggered_by"`
	Fingerprint         string    `db:"fingerprint" json:"fingerprint"`
	Medications         int       `db:"medications" json:"medications"`
	Batches             int       `db:"batches" json:"batches"`
	Positions           int       `db:"positions" json:"positions"`
	PositionsUsed       int       `db:"positions_used" json:"positions_used"`
	InputQuantity       int       `db:"input_quantity" json:"input_quantity"`
	PlacedQuantity      int       `db:"placed_quantity" json:"placed_quantity"`
	UnplaceableQuantity int       `db:"unplaceable_quantity" json:"unplaceable_quantity"`
	DurationMs          int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// NewPlanRun builds the run record of plan with a fresh id
func NewPlanRun(plan *engine.Plan, trigger, triggeredBy string, duration time.Duration) *PlanRun {
	return &PlanRun{
		ID:                  uuid.NewString(),
		AsOf:                plan.AsOf,
		Trigger:             trigger,
		TriggeredBy:         triggeredBy,
		Fingerprint:         plan.Fingerprint(),
		Medications:         plan.Stats.Medications,
		Batches:             plan.Stats.Batches,
		Positions:           plan.Stats.Positions,
		PositionsUsed:       plan.Stats.PositionsUsed,
		InputQuantity:       plan.Stats.InputQuantity,
		PlacedQuantity:      plan.Stats.PlacedQuantity,
		UnplaceableQuantity: plan.Stats.UnplaceableQuantity,
		DurationMs:          duration.Milliseconds(),
	}
}

// PlacementRecord is an active or historical placement row
type PlacementRecord struct {
	ID            string         `db:"id" json:"id"`
	RunID         string         `db:"run_id" json:"run_id"`
	MedicationID  string         `db:"medication_id" json:"medication_id"`
	BatchID       string         `db:"batch_id" json:"batch_id"`
	PositionID    string         `db:"position_id" json:"position_id"`
	ShelfID       string         `db:"shelf_id" json:"shelf_id"`
	AisleID       string         `db:"aisle_id" json:"aisle_id"`
	GridX         int            `db:"grid_x" json:"grid_x"`
	GridY         int            `db:"grid_y" json:"grid_y"`
	Quantity      int            `db:"quantity" json:"quantity"`
	PlacementDate time.Time      `db:"placement_date" json:"placement_date"`
	Reason        string         `db:"reason" json:"reason"`
	Score         float64        `db:"score" json:"score"`
	FIFOTier      int            `db:"fifo_tier" json:"fifo_tier"`
	Urgency       string         `db:"urgency" json:"urgency"`
	Breakdown     types.JSONText `db:"breakdown" json:"breakdown"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// UnplaceableRecord is a batch the latest run could not place
type UnplaceableRecord struct {
	ID           string    `db:"id" json:"id"`
	RunID        string    `db:"run_id" json:"run_id"`
	MedicationID string    `db:"medication_id" json:"medication_id"`
	BatchID      string    `db:"batch_id" json:"batch_id"`
	Quantity     int       `db:"quantity" json:"quantity"`
	Reason       string    `db:"reason" json:"reason"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// PositionState is a materialized position with its current occupant
type PositionState struct {
	ID             string  `db:"id" json:"id"`
	ShelfID        string  `db:"shelf_id" json:"shelf_id"`
	AisleID        string  `db:"aisle_id" json:"aisle_id"`
	Level          int     `db:"level" json:"level"`
	GridX          int     `db:"grid_x" json:"grid_x"`
	GridY          int     `db:"grid_y" json:"grid_y"`
	IsGoldenZone   bool    `db:"is_golden_zone" json:"is_golden_zone"`
	Accessibility  float64 `db:"accessibility" json:"accessibility"`
	ReservedFor    *string `db:"reserved_for" json:"reserved_for,omitempty"`
	MaxWeightKg    float64 `db:"max_weight_kg" json:"max_weight_kg"`
	AllowsStacking bool    `db:"allows_stacking" json:"allows_stacking"`
	Blocked        bool    `db:"blocked" json:"blocked"`
	MedicationID   *string `db:"medication_id" json:"medication_id,omitempty"`
	BatchID        *string `db:"batch_id" json:"batch_id,omitempty"`
	Quantity       *int    `db:"quantity" json:"quantity,omitempty"`
}

type positionRow struct {
	ID             string          `db:"id"`
	TenantID       string          `db:"tenant_id"`
	ShelfID        string          `db:"shelf_id"`
	AisleID        string          `db:"aisle_id"`
	Level          int             `db:"level"`
	GridX          int             `db:"grid_x"`
	GridY          int             `db:"grid_y"`
	IsGoldenZone   bool            `db:"is_golden_zone"`
	Accessibility  decimal.Decimal `db:"accessibility"`
	ReservedFor    *string         `db:"reserved_for"`
	MaxWeightKg    decimal.Decimal `db:"max_weight_kg"`
	AllowsStacking bool            `db:"allows_stacking"`
	Blocked        bool            `db:"blocked"`
}

type placementRow struct {
	TenantID      string          `db:"tenant_id"`
	RunID         string          `db:"run_id"`
	MedicationID  string          `db:"medication_id"`
	BatchID       string          `db:"batch_id"`
	PositionID    string          `db:"position_id"`
	ShelfID       string          `db:"shelf_id"`
	AisleID       string          `db:"aisle_id"`
	GridX         int             `db:"grid_x"`
	GridY         int             `db:"grid_y"`
	Quantity      int             `db:"quantity"`
	PlacementDate time.Time       `db:"placement_date"`
	Reason        string          `db:"reason"`
	Score         decimal.Decimal `db:"score"`
	FIFOTier      int             `db:"fifo_tier"`
	Urgency       string          `db:"urgency"`
	Breakdown     types.JSONText  `db:"breakdown"`
}

type unplaceableRow struct {
	TenantID     string `db:"tenant_id"`
	RunID        string `db:"run_id"`
	MedicationID string `db:"medication_id"`
	BatchID      string `db:"batch_id"`
	Quantity     int    `db:"quantity"`
	Reason       string `db:"reason"`
}

const (
	upsertPositions = `
		INSERT INTO slot_positions (id, tenant_id, shelf_id, aisle_id, level, grid_x, grid_y,
			is_golden_zone, accessibility, reserved_for, max_weight_kg, allows_stacking, blocked)
		VALUES (:id, :tenant_id, :shelf_id, :aisle_id, :level, :grid_x, :grid_y,
			:is_golden_zone, :accessibility, :reserved_for, :max_weight_kg, :allows_stacking, :blocked)
		ON CONFLICT (id) DO UPDATE SET
			aisle_id = EXCLUDED.aisle_id, level = EXCLUDED.level,
			is_golden_zone = EXCLUDED.is_golden_zone, accessibility = EXCLUDED.accessibility,
			reserved_for = EXCLUDED.reserved_for, max_weight_kg = EXCLUDED.max_weight_kg,
			allows_stacking = EXCLUDED.allows_stacking, blocked = EXCLUDED.blocked, updated_at = NOW()`

	deactivatePlacements = `UPDATE slot_placements SET is_active = FALSE, deactivated_at = NOW() WHERE is_active = TRUE`

	insertRun = `
		INSERT INTO slot_plan_runs (id, tenant_id, as_of, trigger, triggered_by, fingerprint, medications,
			batches, positions, positions_used, input_quantity, placed_quantity, unplaceable_quantity, duration_ms)
		VALUES (:id, :tenant_id, :as_of, :trigger, :triggered_by, :fingerprint, :medications,
			:batches, :positions, :positions_used, :input_quantity, :placed_quantity, :unplaceable_quantity, :duration_ms)
		RETURNING created_at`

	insertPlacements = `
		INSERT INTO slot_placements (tenant_id, run_id, medication_id, batch_id, position_id, shelf_id, aisle_id,
			grid_x, grid_y, quantity, placement_date, reason, score, fifo_tier, urgency, breakdown)
		VALUES (:tenant_id, :run_id, :medication_id, :batch_id, :position_id, :shelf_id, :aisle_id,
			:grid_x, :grid_y, :quantity, :placement_date, :reason, :score, :fifo_tier, :urgency, :breakdown)`

	insertUnplaceable = `
		INSERT INTO slot_unplaceable (tenant_id, run_id, medication_id, batch_id, quantity, reason)
		VALUES (:tenant_id, :run_id, :medication_id, :batch_id, :quantity, :reason)`

	selectLatestRun = `
		SELECT id, as_of, trigger, triggered_by, fingerprint, medications, batches, positions, positions_used,
			input_quantity, placed_quantity, unplaceable_quantity, duration_ms, created_at
		FROM slot_plan_runs ORDER BY created_at DESC, id DESC LIMIT 1`

	selectLatestFingerprint = `SELECT fingerprint FROM slot_plan_runs ORDER BY created_at DESC, id DESC LIMIT 1`

	selectActivePlacements = `
		SELECT id, run_id, medication_id, batch_id, position_id, shelf_id, aisle_id, grid_x, grid_y, quantity,
			placement_date, reason, score, fifo_tier, urgency, breakdown, created_at
		FROM slot_placements WHERE is_active = TRUE`

	selectUnplaceable = `
		SELECT id, run_id, medication_id, batch_id, quantity, reason, created_at
		FROM slot_unplaceable
		WHERE run_id = (SELECT id FROM slot_plan_runs ORDER BY created_at DESC, id DESC LIMIT 1)
		ORDER BY medication_id, batch_id`

	selectShelfPositions = `
		SELECT p.id, p.shelf_id, p.aisle_id, p.level, p.grid_x, p.grid_y, p.is_golden_zone, p.accessibility,
			p.reserved_for, p.max_weight_kg, p.allows_stacking, p.blocked,
			sp.medication_id, sp.batch_id, sp.quantity
		FROM slot_positions p
		JOIN storage_shelves s ON s.id = p.shelf_id AND s.is_active = TRUE
		LEFT JOIN slot_placements sp ON sp.position_id = p.id AND sp.is_active = TRUE
		WHERE p.shelf_id = $1
		ORDER BY p.grid_y, p.grid_x`
)

// PlacementRepository persists plans and serves the current layout
type PlacementRepository struct {
	db *database.DB
}

// NewPlacementRepository creates a new placement repository
func NewPlacementRepository(db *database.DB) *PlacementRepository {
	return &PlacementRepository{db: db}
}

// LockKey is the advisory lock key serializing plan writers of a tenant.
func LockKey(tenantID string) string {
	return "slotting:" + tenantID
}

// TENANT-ISOLATED: Atomically replaces the active layout with plan.
// Returns ErrPlanUnchanged without writing when the latest stored run has
// the same fingerprint.
func (r *PlacementRepository) ReplacePlan(ctx context.Context, run *PlanRun, positions []engine.Position, plan *engine.Plan) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	run.TenantID = tenantID

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		if err := r.db.AdvisoryXactLock(ctx, LockKey(tenantID)); err != nil {
			return err
		}
		conn := r.db.Conn(ctx)

		var latest string
		switch err := conn.GetContext(ctx, &latest, selectLatestFingerprint); {
		case err == sql.ErrNoRows:
		case err != nil:
			return err
		case latest == run.Fingerprint:
			return ErrPlanUnchanged
		}

		if err := insertChunked(ctx, conn, upsertPositions, positionRows(tenantID, positions)); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, deactivatePlacements); err != nil {
			return err
		}

		query, args, err := sqlx.Named(insertRun, run)
		if err != nil {
			return err
		}
		if err := conn.QueryRowxContext(ctx, conn.Rebind(query), args...).Scan(&run.CreatedAt); err != nil {
			return err
		}

		rows, err := placementRows(tenantID, run.ID, plan.Placements)
		if err != nil {
			return err
		}
		if err := insertChunked(ctx, conn, insertPlacements, rows); err != nil {
			return err
		}
		return insertChunked(ctx, conn, insertUnplaceable, unplaceableRows(tenantID, run.ID, plan.Unplaceable))
	})

	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// TENANT-ISOLATED: Refreshes the stored position grid without touching
// placements. Used when a replan keeps the layout but shelves or their
// overrides changed.
func (r *PlacementRepository) SyncPositions(ctx context.Context, positions []engine.Position) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		if err := r.db.AdvisoryXactLock(ctx, LockKey(tenantID)); err != nil {
			return err
		}
		return insertChunked(ctx, r.db.Conn(ctx), upsertPositions, positionRows(tenantID, positions))
	})
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// TENANT-ISOLATED: Returns the most recent plan run
func (r *PlacementRepository) LatestRun(ctx context.Context) (*PlanRun, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var run PlanRun
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.Conn(ctx).GetContext(ctx, &run, selectLatestRun)
	})

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("plan run")
	}
	if err != nil {
		return nil, err
	}
	run.TenantID = tenantID
	return &run, nil
}

// TENANT-ISOLATED: Returns active placements, optionally for one shelf
func (r *PlacementRepository) ListActive(ctx context.Context, shelfID string) ([]*PlacementRecord, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	query := selectActivePlacements
	var args []interface{}
	if shelfID != "" {
		query += ` AND shelf_id = $1`
		args = append(args, shelfID)
	}
	query += ` ORDER BY aisle_id, shelf_id, grid_y, grid_x`

	placements := []*PlacementRecord{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.Conn(ctx).SelectContext(ctx, &placements, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return placements, nil
}

// TENANT-ISOLATED: Returns the unplaceable batches of the latest run
func (r *PlacementRepository) ListUnplaceable(ctx context.Context) ([]*UnplaceableRecord, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	records := []*UnplaceableRecord{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.Conn(ctx).SelectContext(ctx, &records, selectUnplaceable)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// TENANT-ISOLATED: Returns the 30 positions of a shelf with their occupants
func (r *PlacementRepository) ShelfPositions(ctx context.Context, shelfID string) ([]*PositionState, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var positions []*PositionState
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.Conn(ctx).SelectContext(ctx, &positions, selectShelfPositions, shelfID)
	})
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, errors.NotFound("shelf")
	}
	return positions, nil
}

func insertChunked[T any](ctx context.Context, conn database.Querier, query string, rows []T) error {
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		if _, err := sqlx.NamedExecContext(ctx, conn, query, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func positionRows(tenantID string, positions []engine.Position) []positionRow {
	rows := make([]positionRow, 0, len(positions))
	for _, p := range positions {
		var reserved *string
		if p.ReservedFor != "" {
			tag := p.ReservedFor
			reserved = &tag
		}
		rows = append(rows, positionRow{
			ID:             p.ID,
			TenantID:       tenantID,
			ShelfID:        p.ShelfID,
			AisleID:        p.AisleID,
			Level:          p.Level,
			GridX:          p.GridX,
			GridY:          int(p.GridY),
			IsGoldenZone:   p.IsGoldenZone,
			Accessibility:  decimal.NewFromFloat(p.Accessibility).Round(3),
			ReservedFor:    reserved,
			MaxWeightKg:    decimal.NewFromFloat(p.MaxWeightKg).Round(3),
			AllowsStacking: p.AllowsStacking,
			Blocked:        p.Blocked,
		})
	}
	return rows
}

func placementRows(tenantID, runID string, placements []engine.Placement) ([]placementRow, error) {
	rows := make([]placementRow, 0, len(placements))
	for _, pl := range placements {
		breakdown, err := json.Marshal(pl.Breakdown)
		if err != nil {
			return nil, err
		}
		rows = append(rows, placementRow{
			TenantID:      tenantID,
			RunID:         runID,
			MedicationID:  pl.MedicationID,
			BatchID:       pl.BatchID,
			PositionID:    pl.PositionID,
			ShelfID:       pl.ShelfID,
			AisleID:       pl.AisleID,
			GridX:         pl.GridX,
			GridY:         int(pl.GridY),
			Quantity:      pl.Quantity,
			PlacementDate: pl.PlacementDate,
			Reason:        string(pl.Reason),
			Score:         decimal.NewFromFloat(pl.Score).Round(2),
			FIFOTier:      int(pl.Tier),
			Urgency:       pl.Urgency.String(),
			Breakdown:     types.JSONText(breakdown),
		})
	}
	return rows, nil
}

func unplaceableRows(tenantID, runID string, unplaceable []engine.Unplaceable) []unplaceableRow {
	rows := make([]unplaceableRow, 0, len(unplaceable))
	for _, u := range unplaceable {
		rows = append(rows, unplaceableRow{
			TenantID:     tenantID,
			RunID:        runID,
			MedicationID: u.MedicationID,
			BatchID:      u.BatchID,
			Quantity:     u.Quantity,
			Reason:       string(u.Reason),
		})
	}
	return rows
}
