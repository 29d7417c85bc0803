// Package tenant carries the pharmacy tenant of a request or an event.
// Every slotting read and write is scoped to exactly one tenant.
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type ctxKey struct{}

var (
	ErrNoTenantInContext = errors.New("no tenant in context")
	ErrInvalidTenantID   = errors.New("tenant id must be a UUID")
)

// WithTenantID stores an already normalized tenant id.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// TenantID returns the tenant stored by WithTenantID.
func TenantID(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id, nil
	}
	return "", ErrNoTenantInContext
}

// ParseID normalizes a tenant id received from a header or an event to the
// lowercase form stored in the tenant_id columns.
func ParseID(raw string) (string, error) {
	if raw == "" {
		return "", ErrNoTenantInContext
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", ErrInvalidTenantID
	}
	return id.String(), nil
}
