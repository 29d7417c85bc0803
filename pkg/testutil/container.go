// Package testutil holds the shared test tooling of the slotting service:
// a migrated Postgres in a testcontainer, sqlmock wrappers, a recording
// event publisher and catalog fixtures.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/medflow/medflow-slotting/migrations"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// AppRole is the non-superuser role tests connect as, so row level
// security applies to them the way it does in production.
const (
	AppRole     = "slotting_app"
	AppPassword = "slotting_app"
)

const (
	postgresImage   = "postgres:15-alpine"
	postgresDB      = "medflow_slotting_test"
	postgresUser    = "test"
	startupDeadline = time.Minute
)

// PostgresContainer is a throwaway Postgres with the slotting schema.
type PostgresContainer struct {
	*postgres.PostgresContainer
	// DSN connects as the superuser, bypassing row level security.
	DSN string
}

// NewPostgresContainer starts Postgres and waits until it accepts
// connections. The image's init run restarts the server once, hence the
// second log occurrence.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(postgresImage),
		postgres.WithDatabase(postgresDB),
		postgres.WithUsername(postgresUser),
		postgres.WithPassword(postgresUser),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupDeadline),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}
	return &PostgresContainer{PostgresContainer: container, DSN: dsn}, nil
}

// Connect opens a superuser connection, used for migrations and seeding.
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// ApplySchema runs the embedded migrations and provisions AppRole.
func (c *PostgresContainer) ApplySchema(ctx context.Context, db *sqlx.DB) error {
	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}

	provision := fmt.Sprintf(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%[1]s') THEN
				CREATE ROLE %[1]s LOGIN PASSWORD '%[2]s';
			END IF;
		END
		$$;
		GRANT USAGE ON SCHEMA public TO %[1]s;
		GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %[1]s;
	`, AppRole, AppPassword)
	if _, err := db.ExecContext(ctx, provision); err != nil {
		return fmt.Errorf("failed to provision %s: %w", AppRole, err)
	}
	return nil
}

// AppDSN is the container DSN with AppRole credentials.
func (c *PostgresContainer) AppDSN() (string, error) {
	u, err := url.Parse(c.DSN)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword(AppRole, AppPassword)
	return u.String(), nil
}
