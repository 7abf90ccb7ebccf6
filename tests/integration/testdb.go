// Package integration runs the event log against a real PostgreSQL started
// with testcontainers. One container is shared per test binary; every test
// gets its own pooled connection and isolates itself by tenant ID.
package integration

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devtrack/backend/internal/infrastructure/config"
	"github.com/devtrack/backend/internal/infrastructure/persistence"
)

const (
	eventDBName     = "devtrack_events_test"
	eventDBUser     = "postgres"
	eventDBPassword = "admin123"
)

var (
	sharedMu        sync.Mutex
	sharedContainer testcontainers.Container
	sharedDBConfig  *config.DatabaseConfig
)

// TestDB is one test's connection to the shared event log database
type TestDB struct {
	DB       *gorm.DB
	SqlDB    *sql.DB
	Database *persistence.Database
}

// NewSharedTestDB returns a connection to the shared Postgres container,
// starting the container and applying the event log schema on first use.
// Tests must scope their data by tenant; the schema is shared.
func NewSharedTestDB(t *testing.T) *TestDB {
	t.Helper()

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedContainer == nil {
		startSharedContainer(t)
	}

	database, err := persistence.NewDatabaseWithLogger(sharedDBConfig, testLogger())
	require.NoError(t, err, "connect to event log database")

	sqlDB, err := database.DB.DB()
	require.NoError(t, err, "unwrap sql.DB")

	tdb := &TestDB{
		DB:       database.DB,
		SqlDB:    sqlDB,
		Database: database,
	}
	t.Cleanup(func() { _ = database.Close() })
	return tdb
}

// startSharedContainer boots Postgres, derives the connection config from
// the mapped port and applies migrations/ once. Caller holds sharedMu.
func startSharedContainer(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(eventDBName),
		tcpostgres.WithUsername(eventDBUser),
		tcpostgres.WithPassword(eventDBPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "read container connection string")

	cfg, err := databaseConfigFromDSN(dsn)
	require.NoError(t, err, "derive database config")

	sharedContainer = container
	sharedDBConfig = cfg

	database, err := persistence.NewDatabaseWithLogger(cfg, testLogger())
	require.NoError(t, err, "connect for schema setup")
	defer database.Close()

	sqlDB, err := database.DB.DB()
	require.NoError(t, err, "unwrap sql.DB for schema setup")
	applyEventLogSchema(t, sqlDB)
}

// databaseConfigFromDSN translates the container's postgres:// URL into the
// config shape the persistence layer connects with.
func databaseConfigFromDSN(dsn string) (*config.DatabaseConfig, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	logLevel := "silent"
	if os.Getenv("TEST_DB_DEBUG") != "" {
		logLevel = "info"
	}
	return &config.DatabaseConfig{
		Host:            host,
		Port:            port,
		User:            eventDBUser,
		Password:        eventDBPassword,
		Name:            eventDBName,
		SSLMode:         "disable",
		LogLevel:        logLevel,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5,
		ConnMaxIdleTime: 5,
	}, nil
}

func testLogger() *zap.Logger {
	if os.Getenv("TEST_DB_DEBUG") != "" {
		log, _ := zap.NewDevelopment()
		return log
	}
	return zap.NewNop()
}

// applyEventLogSchema runs the repository's migrations against the container
func applyEventLogSchema(t *testing.T, sqlDB *sql.DB) {
	t.Helper()

	migrationsPath := findMigrationsPath()
	require.NotEmpty(t, migrationsPath, "migrations directory not found")

	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	require.NoError(t, err, "create migration driver")

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	require.NoError(t, err, "create migrate instance")

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "apply event log schema")
	}
}

// findMigrationsPath walks up from this file toward the repository root
// looking for the migrations directory.
func findMigrationsPath() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	dir := filepath.Dir(filename)
	for range 5 {
		candidate := filepath.Join(dir, "migrations")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return ""
}

// CleanupSharedContainer terminates the shared container; call it from
// TestMain after m.Run when container reuse across packages is not wanted.
func CleanupSharedContainer() {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedContainer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = sharedContainer.Terminate(ctx)
	sharedContainer = nil
	sharedDBConfig = nil
}
