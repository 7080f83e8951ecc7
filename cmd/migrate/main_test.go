package main

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"credits/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const script = `-- +migrate Up
CREATE TABLE a (
    id text PRIMARY KEY
);
-- comment
CREATE INDEX a_idx ON a (id);

-- +migrate Down
DROP TABLE a;
`

func TestSplitSQLKeepsUpSectionOnly(t *testing.T) {
	statements := splitSQL(upSection(script))
	require.Len(t, statements, 2)
	assert.Contains(t, statements[0], "CREATE TABLE a")
	assert.Contains(t, statements[1], "CREATE INDEX a_idx")
	for _, stmt := range statements {
		assert.NotContains(t, stmt, "DROP")
	}
}

func TestMigrateSkipsAppliedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_a.sql"), []byte(script), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_b.sql"), []byte("CREATE TABLE b (id text);\n"), 0o600))

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	database := sqlx.NewDb(conn, "postgres")

	exists := regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`)
	record := regexp.QuoteMeta(`INSERT INTO schema_migrations (filename) VALUES ($1)`)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs("0001_a.sql").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(exists).WithArgs("0002_b.sql").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(record).WithArgs("0002_b.sql").WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := migrate(context.Background(), database, dir, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShippedMigrationSplits(t *testing.T) {
	content, err := os.ReadFile(filepath.Join("..", "..", "migrations", "0001_credits.sql"))
	require.NoError(t, err)
	statements := splitSQL(upSection(string(content)))
	assert.Len(t, statements, 10)
	for _, stmt := range statements {
		assert.NotContains(t, stmt, "DROP TABLE")
	}
}
