package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

var testMigrations = []Migration{
	{
		Version:     1,
		Description: "Create widgets table",
		SQL:         `CREATE TABLE widgets (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL UNIQUE)`,
		SQLite:      `CREATE TABLE widgets (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE)`,
	},
	{
		Version:     2,
		Description: "Index widgets",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_widgets_name ON widgets(name)`,
	},
}

func TestRunMigrations_AppliesOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, db, SQLite, "test_migrations", testMigrations, quietLogger()))
	require.NoError(t, RunMigrations(ctx, db, SQLite, "test_migrations", testMigrations, quietLogger()))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test_migrations").Scan(&count))
	assert.Equal(t, 2, count)

	_, err := db.Exec("INSERT INTO widgets (name) VALUES ('a')")
	require.NoError(t, err)
}

func TestRunMigrations_FailureRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	broken := []Migration{{Version: 1, Description: "broken", SQL: "CREATE TABLE"}}
	err := RunMigrations(ctx, db, SQLite, "test_migrations", broken, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration 1")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test_migrations").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestIsUniqueViolation(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, RunMigrations(context.Background(), db, SQLite, "test_migrations", testMigrations, quietLogger()))

	_, err := db.Exec("INSERT INTO widgets (name) VALUES ('dup')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO widgets (name) VALUES ('dup')")
	require.Error(t, err)

	assert.True(t, IsUniqueViolation(err))
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 20, cfg.PostgresMaxConns)
	assert.Equal(t, 10, cfg.RedisPoolSize)
	assert.Positive(t, cfg.CacheTTL)
	assert.Positive(t, cfg.CacheSize)
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinaka.db")
	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunMigrations(context.Background(), db, SQLite, "test_migrations", testMigrations, quietLogger()))

	_, err = OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}
