package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medflow/medflow-slotting/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 30 * time.Second

// NewHTTPRequest builds a request whose body is body encoded as JSON.
// A nil body sends no payload, which the replan endpoint accepts.
func NewHTTPRequest(method, path string, body interface{}) *http.Request {
	if body == nil {
		return httptest.NewRequest(method, path, nil)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		panic("testutil: unencodable request body: " + err.Error())
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithTenantHeaders sets the tenant the gateway would forward.
func WithTenantHeaders(req *http.Request, tenantID string) *http.Request {
	if tenantID != "" {
		req.Header.Set(httputil.HeaderTenantID, tenantID)
	}
	return req
}

// WithUserHeaders sets the caller identity and granted permissions.
func WithUserHeaders(req *http.Request, userID string, perms ...string) *http.Request {
	if userID != "" {
		req.Header.Set(httputil.HeaderUserID, userID)
	}
	if len(perms) > 0 {
		req.Header.Set(httputil.HeaderUserPermissions, strings.Join(perms, ","))
	}
	return req
}

// ExecuteRequest serves req through handler.
func ExecuteRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// AssertStatus checks the status and prints the body when it differs.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	assert.Equal(t, expected, rr.Code, "body: %s", rr.Body.String())
}

// ParseJSONBody decodes the response envelope into target.
func ParseJSONBody(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), target), "body: %s", rr.Body.String())
}

// DefaultTestContext is cancelled when the test ends or after testTimeout.
func DefaultTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// SkipIfShort skips container backed tests under -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
