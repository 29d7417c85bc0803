package httputil

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/medflow/medflow-slotting/pkg/actor"
	"github.com/medflow/medflow-slotting/pkg/errors"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/messaging"
	"github.com/medflow/medflow-slotting/pkg/permissions"
	"github.com/medflow/medflow-slotting/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestError(t *testing.T) {
	t.Run("app error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Error(rec, errors.Validation(map[string]string{"limit": "must be at most 50"}))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
		assert.Equal(t, "must be at most 50", resp.Error.Details["limit"])
	})

	t.Run("plain error hides details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Error(rec, stderrors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeResponse(t, rec)
		assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
		assert.NotContains(t, resp.Error.Message, "pq")
	})

	t.Run("missing tenant is forbidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Error(rec, tenant.ErrNoTenantInContext)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("deadline is unavailable", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Error(rec, fmt.Errorf("load snapshot: %w", context.DeadlineExceeded))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeResponse(t, rec).Error.Code)
	})
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		DryRun bool `json:"dry_run"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"dry_run":true}`))
	require.NoError(t, DecodeJSON(r, &body))
	assert.True(t, body.DryRun)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"dryrun":true}`))
	assert.ErrorIs(t, DecodeJSON(r, &body), errors.ErrBadRequest)
}

func TestValidate(t *testing.T) {
	type request struct {
		Limit   int    `json:"limit" validate:"gte=1,lte=50"`
		Trigger string `json:"trigger" validate:"required,oneof=manual schedule"`
	}

	assert.NoError(t, Validate(request{Limit: 5, Trigger: "manual"}))

	err := Validate(request{Limit: 51})
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "must be at most 50", appErr.Details["limit"])
	assert.Equal(t, "this field is required", appErr.Details["trigger"])
}

func TestTenantMiddleware(t *testing.T) {
	var seenTenant string
	var seenActor *actor.Actor
	h := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTenant, _ = tenant.TenantID(r.Context())
		seenActor = actor.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("health bypasses tenant check", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing tenant is forbidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slotting/plans/latest", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed tenant is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/slotting/plans/latest", nil)
		req.Header.Set(HeaderTenantID, "clinic-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("identity headers populate context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/slotting/plans/latest", nil)
		req.Header.Set(HeaderTenantID, testTenant)
		req.Header.Set(HeaderUserID, "u-7")
		req.Header.Set(HeaderUserPermissions, "slotting.read, inventory.read")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, testTenant, seenTenant)
		require.NotNil(t, seenActor)
		assert.Equal(t, "u-7", seenActor.ID)
		assert.Equal(t, []string{permissions.SlottingRead, "inventory.read"}, seenActor.Permissions)
	})
}

func TestRequirePermission(t *testing.T) {
	h := TenantMiddleware(RequirePermission(permissions.SlottingWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	tests := []struct {
		name   string
		perms  string
		user   string
		status int
	}{
		{"anonymous", "", "", http.StatusForbidden},
		{"read only", "slotting.read", "u-1", http.StatusForbidden},
		{"write", "slotting.write", "u-1", http.StatusAccepted},
		{"wildcard", "slotting.*", "u-1", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/slotting/plans", nil)
			req.Header.Set(HeaderTenantID, testTenant)
			if tt.user != "" {
				req.Header.Set(HeaderUserID, tt.user)
			}
			req.Header.Set(HeaderUserPermissions, tt.perms)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRequestIDAndRecoverer(t *testing.T) {
	var id, correlationID string
	h := RequestID(Recoverer(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = GetRequestID(r.Context())
		correlationID = messaging.CorrelationID(r.Context())
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, id, correlationID)
}
