package testutil

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// MockDB is a GORM connection backed by sqlmock, for tests that assert on
// the SQL the event log emits without a live Postgres.
type MockDB struct {
	DB    *gorm.DB
	Mock  sqlmock.Sqlmock
	SqlDB *sql.DB
}

// NewMockDB opens GORM over sqlmock with the postgres dialector, so the
// generated SQL matches what the store sends to a real Postgres. The
// connection is closed when the test ends.
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err, "create sqlmock")

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err, "open gorm over sqlmock")

	t.Cleanup(func() { _ = sqlDB.Close() })
	return &MockDB{DB: gormDB, Mock: mock, SqlDB: sqlDB}
}

// ExpectationsWereMet fails the test when an expected query never ran
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	require.NoError(t, m.Mock.ExpectationsWereMet(), "unmet sqlmock expectations")
}

// NewTestUUID derives a stable UUID from seed, so fixtures that must agree
// on an ID across packages can reconstruct it instead of passing it around.
func NewTestUUID(seed string) uuid.UUID {
	namespace := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	return uuid.NewSHA1(namespace, []byte(seed))
}

// TestTenantID is the tenant most event fixtures are appended under
func TestTenantID() uuid.UUID {
	return NewTestUUID("tenant-alpha")
}

// OtherTenantID is a second tenant, for isolation tests
func OtherTenantID() uuid.UUID {
	return NewTestUUID("tenant-beta")
}

// TestUserID identifies the user recorded on fixture events
func TestUserID() uuid.UUID {
	return NewTestUUID("user-dev")
}
