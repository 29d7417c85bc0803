package testutil

import (
	"context"
	"database/sql/driver"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-slotting/pkg/database"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/tenant"
)

// SetTenantQuery is the statement WithTenantRLS issues after BEGIN.
const SetTenantQuery = "SELECT set_config('app.current_tenant', $1, true)"

// MockDB is a database.DB backed by sqlmock. Queries are matched
// literally, not as regular expressions.
//
//	mockDB := testutil.NewMockDB(t)
//	defer mockDB.Close()
//	mockDB.ExpectTenantQuery(tenantID, "SELECT ...", testutil.MockRows("id").AddRow(id))
//	repo := repository.NewPlacementRepository(mockDB.Database)
type MockDB struct {
	Database *database.DB
	Mock     sqlmock.Sqlmock
}

func NewMockDB(t *testing.T) *MockDB {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &MockDB{
		Database: database.Wrap(sqlx.NewDb(conn, "postgres"), logger.Nop()),
		Mock:     mock,
	}
}

func (m *MockDB) Close() error {
	return m.Database.Close()
}

func (m *MockDB) ExpectQuery(query string) *sqlmock.ExpectedQuery {
	return m.Mock.ExpectQuery(regexp.QuoteMeta(query))
}

func (m *MockDB) ExpectExec(query string) *sqlmock.ExpectedExec {
	return m.Mock.ExpectExec(regexp.QuoteMeta(query))
}

func (m *MockDB) ExpectCommit() *sqlmock.ExpectedCommit {
	return m.Mock.ExpectCommit()
}

func (m *MockDB) ExpectRollback() *sqlmock.ExpectedRollback {
	return m.Mock.ExpectRollback()
}

// ExpectationsWereMet fails the test on any unconsumed expectation.
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	if err := m.Mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled mock expectations: %v", err)
	}
}

// MockRows starts a result set with the given columns.
func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

// ExpectTenantBegin expects the BEGIN and set_config pair of WithTenantRLS.
func (m *MockDB) ExpectTenantBegin(tenantID string) {
	m.Mock.ExpectBegin()
	m.ExpectExec(SetTenantQuery).
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// ExpectTenantQuery expects one query inside its own tenant transaction.
func (m *MockDB) ExpectTenantQuery(tenantID, query string, rows *sqlmock.Rows) {
	m.ExpectTenantBegin(tenantID)
	m.ExpectQuery(query).WillReturnRows(rows)
	m.ExpectCommit()
}

// ExpectTenantExec expects one statement inside its own tenant transaction.
func (m *MockDB) ExpectTenantExec(tenantID, query string, result driver.Result) {
	m.ExpectTenantBegin(tenantID)
	m.ExpectExec(query).WillReturnResult(result)
	m.ExpectCommit()
}

// PublishedEvent is one call to MockPublisher.Publish.
type PublishedEvent struct {
	Type     string
	Payload  interface{}
	TenantID string
}

// MockPublisher records events instead of sending them. Publish returns Err.
type MockPublisher struct {
	Err error

	mu     sync.Mutex
	events []PublishedEvent
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	tenantID, _ := tenant.TenantID(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, PublishedEvent{Type: eventType, Payload: payload, TenantID: tenantID})
	return m.Err
}

// Events returns the recorded events of one type in publish order.
func (m *MockPublisher) Events(eventType string) []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PublishedEvent
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockPublisher) AssertEventPublished(t *testing.T, eventType string) {
	t.Helper()
	if len(m.Events(eventType)) == 0 {
		t.Errorf("expected event %q to be published", eventType)
	}
}

func (m *MockPublisher) AssertNoEventsPublished(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) > 0 {
		t.Errorf("expected no events, got %d: %+v", len(m.events), m.events)
	}
}

func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
