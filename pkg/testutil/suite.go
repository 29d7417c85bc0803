package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-slotting/internal/slotting/engine"
	"github.com/medflow/medflow-slotting/pkg/database"
	"github.com/medflow/medflow-slotting/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL.
// RawDB connects as the superuser and bypasses row level security; it is
// only used for seeding. DB connects as AppRole.
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite creates a new integration test suite.
//
// Usage:
//
//	func TestPlacementRepository_Integration(t *testing.T) {
//	    testutil.SkipIfShort(t)
//	    suite := testutil.NewIntegrationSuite(t)
//	    tenantID := suite.SeedTenant(t, "clinic")
//	    ...
//	}
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	t.Helper()
	ctx := context.Background()

	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}

	dsn, err := container.AppDSN()
	if err != nil {
		t.Fatalf("failed to build app dsn: %v", err)
	}

	log := logger.Nop()
	appDB, err := database.NewWithDSN(dsn, log)
	if err != nil {
		t.Fatalf("failed to connect as %s: %v", AppRole, err)
	}
	t.Cleanup(func() { appDB.Close() })

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        appDB,
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx)
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
		if containerErr != nil {
			return
		}
		containerErr = globalContainer.ApplySchema(ctx, globalDB)
	})

	return globalContainer, globalDB, containerErr
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}

// SeedTenant registers an active tenant and returns its id.
func (s *IntegrationSuite) SeedTenant(t *testing.T, name string) string {
	t.Helper()
	id := uuid.NewString()
	if _, err := s.RawDB.Exec(`INSERT INTO public.tenants (id, name) VALUES ($1, $2)`, id, name); err != nil {
		t.Fatalf("failed to seed tenant: %v", err)
	}
	return id
}

// SeedMedication inserts a medication and its batches for tenantID.
func (s *IntegrationSuite) SeedMedication(t *testing.T, tenantID string, m engine.RawMedication) {
	t.Helper()
	_, err := s.RawDB.Exec(`
		INSERT INTO medications (id, tenant_id, name, usage_pattern, storage_category, velocity_score,
			weight_kg, volume_cm3, fragility, requires_refrigeration, requires_security,
			light_sensitive, humidity_sensitive, batch_picking_compatible)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, tenantID, m.Name, m.Usage, m.StorageCategory, m.VelocityScore,
		m.WeightKg, m.VolumeCm3, m.Fragility, m.RequiresRefrigeration, m.RequiresSecurity,
		m.LightSensitive, m.HumiditySensitive, m.BatchPickingCompatible,
	)
	if err != nil {
		t.Fatalf("failed to seed medication %s: %v", m.ID, err)
	}

	for _, b := range m.Batches {
		_, err := s.RawDB.Exec(`
			INSERT INTO medication_batches (id, tenant_id, medication_id, batch_number, quantity, expiry_date)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			b.ID, tenantID, m.ID, b.BatchNumber, b.Quantity, b.ExpiryDate,
		)
		if err != nil {
			t.Fatalf("failed to seed batch %s: %v", b.ID, err)
		}
	}
}

// SeedShelf inserts a shelf and its position overrides for tenantID.
func (s *IntegrationSuite) SeedShelf(t *testing.T, tenantID string, sh engine.Shelf) {
	t.Helper()
	var reserved *string
	if sh.ReservedFor != "" {
		reserved = &sh.ReservedFor
	}
	_, err := s.RawDB.Exec(`
		INSERT INTO storage_shelves (id, tenant_id, aisle_id, level, max_weight_kg, allows_stacking, reserved_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sh.ID, tenantID, sh.AisleID, sh.Level, sh.MaxWeightKg, sh.AllowsStacking, reserved,
	)
	if err != nil {
		t.Fatalf("failed to seed shelf %s: %v", sh.ID, err)
	}

	for _, o := range sh.Overrides {
		_, err := s.RawDB.Exec(`
			INSERT INTO shelf_position_overrides (tenant_id, shelf_id, grid_x, grid_y, reserved_for, max_weight_kg, allows_stacking, blocked)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			tenantID, sh.ID, o.GridX, o.GridY, o.ReservedFor, o.MaxWeightKg, o.AllowsStacking, o.Blocked,
		)
		if err != nil {
			t.Fatalf("failed to seed override on shelf %s: %v", sh.ID, err)
		}
	}
}
