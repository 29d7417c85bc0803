// Package actor identifies who triggered an operation: a pharmacist behind
// the gateway, or the service itself for scheduled and event driven runs.
package actor

import (
	"context"
	"fmt"
)

// SystemID is the actor id of scheduler and event driven work.
const SystemID = "00000000-0000-0000-0000-000000000000"

// SystemName is what plan runs record as triggered_by for system work.
const SystemName = "system"

// Actor is the caller identity forwarded by the gateway.
type Actor struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	RoleName    string   `json:"role_name,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// IsSystem is true for the system actor and for a nil actor.
func (a *Actor) IsSystem() bool {
	return a == nil || a.ID == SystemID
}

// String is the log form, "id (email)" when the email is known.
func (a *Actor) String() string {
	switch {
	case a.IsSystem():
		return SystemName
	case a.Email != "":
		return fmt.Sprintf("%s (%s)", a.ID, a.Email)
	default:
		return a.ID
	}
}

type ctxKey struct{}

// FromContext returns the actor of ctx, or nil when none was set.
func FromContext(ctx context.Context) *Actor {
	a, _ := ctx.Value(ctxKey{}).(*Actor)
	return a
}

func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// SystemActor is attached to contexts of background work.
func SystemActor() *Actor {
	return &Actor{ID: SystemID, Email: "system@medflow.local"}
}

// TriggeredBy is the value a plan run records for the actor of ctx: the
// user id, or SystemName when no user is involved.
func TriggeredBy(ctx context.Context) string {
	a := FromContext(ctx)
	if a.IsSystem() {
		return SystemName
	}
	return a.ID
}
