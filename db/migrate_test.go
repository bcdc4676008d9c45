package db

import (
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/zbulk/errors"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openMemory(t)

	first, err := Migrate(db, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"000", "001", "002", "003"}, first.Applied)
	assert.Equal(t, "003", first.Version)

	second, err := Migrate(db, nil)
	require.NoError(t, err)
	assert.Empty(t, second.Applied)
	assert.Equal(t, "003", second.Version)

	var versions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 4, versions)
}

func TestMigrate_OutcomesCascadeWithRun(t *testing.T) {
	db := openMemory(t)
	_, err := db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	_, err = Migrate(db, nil)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO bulk_runs (id, connection_id, profile_name, job_type, status, started_at)
		VALUES ('r1', 'c1', 'acme', 'desk.tickets.create', 'running', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO bulk_item_outcomes (run_id, profile_name, job_type, row_number, identifier, success, created_at)
		VALUES ('r1', 'acme', 'desk.tickets.create', 1, 'a@x.com', 1, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	_, err = db.Exec("DELETE FROM bulk_runs WHERE id = 'r1'")
	require.NoError(t, err)

	var remaining int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM bulk_item_outcomes").Scan(&remaining))
	assert.Zero(t, remaining)
}

func TestMigrate_ExecFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// 000 is fresh: lookup fails because schema_migrations does not exist
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)")).
		WithArgs("000").
		WillReturnError(errors.New("no such table: schema_migrations"))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = Migrate(db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000_create_schema_migrations.sql")
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_MissingSchemaTableForLaterVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// 000 already applied, then 001 lookup fails: the table vanished
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("000").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("001").
		WillReturnError(errors.New("no such table: schema_migrations"))

	_, err = Migrate(db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_migrations table missing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_Ordered(t *testing.T) {
	steps, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, "000", steps[0].Version)
	assert.Equal(t, "000_create_schema_migrations.sql", steps[0].File)
	for i := 1; i < len(steps); i++ {
		assert.Less(t, steps[i-1].Version, steps[i].Version)
	}
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	db := openMemory(t)
	_, err := Migrate(db, nil)
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO schema_migrations (version) VALUES ('999')")
	require.NoError(t, err)

	result, err := Migrate(db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this binary")
	assert.NotEmpty(t, errors.GetAllHints(err))
	assert.Empty(t, result.Applied)
}
