package postgres

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStatementTimeoutMS(t *testing.T) {
	resolved, err := resolveStatementTimeoutMS(Config{StatementTimeoutMS: 45000})
	require.NoError(t, err)
	assert.Equal(t, 45000, resolved)

	resolved, err = resolveStatementTimeoutMS(Config{})
	require.NoError(t, err)
	assert.Equal(t, dbStatementTimeoutDefaultMS, resolved)

	_, err = resolveStatementTimeoutMS(Config{StatementTimeoutMS: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of allowed range")
}

func TestAppendStatementTimeout(t *testing.T) {
	assert.Equal(t, "postgres://x/db?options=-c%20statement_timeout%3D500",
		appendStatementTimeout("postgres://x/db", 500))
	assert.Equal(t, "postgres://x/db?sslmode=disable&options=-c%20statement_timeout%3D500",
		appendStatementTimeout("postgres://x/db?sslmode=disable", 500))
}

func TestRunMigrations_AppliesPendingOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_a.up.sql"), []byte("CREATE TABLE a (id INT)"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_b.up.sql"), []byte("CREATE TABLE b (id INT)"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_b.down.sql"), []byte("DROP TABLE b"), 0o600))

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := &DB{sqlDB}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_a.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0002_b.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_b.up.sql").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, db.RunMigrations(context.Background(), dir))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShippedMigrationsExist(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("migrations", "*.up.sql"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(files), 2)
}
