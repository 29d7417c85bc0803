package httputil

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medflow-slotting/pkg/actor"
	"github.com/medflow/medflow-slotting/pkg/errors"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/messaging"
	"github.com/medflow/medflow-slotting/pkg/permissions"
	"github.com/medflow/medflow-slotting/pkg/tenant"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

const HeaderRequestID = "X-Request-ID"

// Identity headers set by the API gateway after authentication.
const (
	HeaderTenantID        = "X-Tenant-ID"
	HeaderUserID          = "X-User-ID"
	HeaderUserEmail       = "X-User-Email"
	HeaderUserRole        = "X-User-Role"
	HeaderUserPermissions = "X-User-Permissions"
)

// RequestID tags the request with X-Request-ID, generating one when the
// gateway did not. The id doubles as the correlation id of any event the
// request publishes.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		ctx = messaging.WithCorrelationID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger writes one access line per request. Server errors log at error
// level and client errors at warn.
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			l := log.WithRequestID(GetRequestID(r.Context()))
			ev := l.Info()
			switch {
			case sw.status >= http.StatusInternalServerError:
				ev = l.Error()
			case sw.status >= http.StatusBadRequest:
				ev = l.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Str("tenant_id", r.Header.Get(HeaderTenantID)).
				Str("user_id", r.Header.Get(HeaderUserID)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

// Recoverer turns a handler panic into a 500 error envelope.
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					log.Error().
						Interface("panic", p).
						Str("request_id", GetRequestID(r.Context())).
						Str("path", r.URL.Path).
						Msg("panic recovered")
					Error(w, errors.Internal("an unexpected error occurred"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// GetRequestID returns the id set by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// TenantMiddleware extracts tenant and caller identity from headers set by
// the API gateway and adds them to the request context.
//
// Security: a missing or malformed X-Tenant-ID returns 403 Forbidden.
// /health is allowed without tenant context for monitoring.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		tenantID, err := tenant.ParseID(r.Header.Get(HeaderTenantID))
		if err != nil {
			Error(w, err)
			return
		}

		ctx := tenant.WithTenantID(r.Context(), tenantID)
		if userID := r.Header.Get(HeaderUserID); userID != "" {
			ctx = actor.WithActor(ctx, &actor.Actor{
				ID:          userID,
				Email:       r.Header.Get(HeaderUserEmail),
				RoleName:    r.Header.Get(HeaderUserRole),
				TenantID:    tenantID,
				Permissions: permissions.ParseHeader(r.Header.Get(HeaderUserPermissions)),
			})
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects requests whose caller lacks perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actor.FromContext(r.Context())
			if a == nil || !permissions.HasPermission(a.Permissions, perm) {
				Error(w, errors.Forbidden("missing permission "+perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
