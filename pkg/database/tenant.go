package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// ErrNoTransaction is returned by helpers that need WithTenantRLS around them.
var ErrNoTransaction = errors.New("no transaction in context")

// WithTenantRLS runs fn inside one transaction with app.current_tenant set,
// so the row level security policies (tenant_id = current_setting(...)::uuid)
// filter every statement fn issues through Conn. The setting is transaction
// local and disappears on commit or rollback.
//
// A nested call reuses the outer transaction.
func (db *DB) WithTenantRLS(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT set_config('app.current_tenant', $1, true)`, tenantID); err != nil {
			return fmt.Errorf("failed to set app.current_tenant: %w", err)
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Conn returns the transaction carried by ctx, or the pool outside one.
func (db *DB) Conn(ctx context.Context) Querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return db.DB
}

// AdvisoryXactLock blocks until the transaction in ctx holds the advisory
// lock for key. The lock is released when the transaction ends.
func (db *DB) AdvisoryXactLock(ctx context.Context, key string) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock %q: %w", key, err)
	}
	return nil
}

func txFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok
}
