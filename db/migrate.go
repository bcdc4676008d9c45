package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/zbulk/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migration is one embedded schema step, named NNN_description.sql
type Migration struct {
	Version string
	File    string
}

// MigrationResult reports what a Migrate call did
type MigrationResult struct {
	Applied []string // versions applied by this call, in order
	Version string   // schema version once the call returns
}

// Migrations lists the embedded migrations in apply order. 000 creates
// schema_migrations and always comes first.
func Migrations() ([]Migration, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var out []Migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, _, ok := strings.Cut(entry.Name(), "_")
		if !ok || version == "" {
			return nil, errors.Newf("migration %s has no version prefix", entry.Name())
		}
		if other, dup := seen[version]; dup {
			return nil, errors.Newf("migrations %s and %s share version %s", other, entry.Name(), version)
		}
		seen[version] = entry.Name()
		out = append(out, Migration{Version: version, File: entry.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies pending migrations, each in its own transaction, and
// refuses a database whose schema is newer than this binary knows.
// A nil logger keeps it quiet.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) (MigrationResult, error) {
	var result MigrationResult

	steps, err := Migrations()
	if err != nil {
		return result, err
	}
	if len(steps) == 0 {
		return result, errors.New("no migrations embedded")
	}

	for _, m := range steps {
		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.Version).Scan(&exists)
		if err != nil {
			// Only 000 may run before the table exists
			if m.Version != "000" {
				return result, errors.Newf("schema_migrations table missing, but migration is not 000: %s", m.File)
			}
		} else if exists {
			if logger != nil {
				logger.Debugw("Migration already applied", "migration", m.File)
			}
			continue
		}

		if err := apply(db, m); err != nil {
			return result, err
		}
		if logger != nil {
			logger.Infow("Applied migration", "migration", m.File, "version", m.Version)
		}
		result.Applied = append(result.Applied, m.Version)
	}

	latest := steps[len(steps)-1].Version
	var current sql.NullString
	if err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&current); err != nil {
		return result, errors.Wrap(err, "read schema version")
	}
	if current.String > latest {
		return result, errors.WithHint(
			errors.Newf("database schema %s is newer than this binary's %s", current.String, latest),
			"upgrade zbulk, or point --db-path at another database")
	}
	result.Version = latest

	if logger != nil && len(result.Applied) > 0 {
		logger.Infow("Database schema migrated",
			"applied", len(result.Applied),
			"schema_version", result.Version,
		)
	}
	return result, nil
}

// apply runs one migration and records its version in the same transaction.
// 000 creates schema_migrations and then records itself.
func apply(db *sql.DB, m Migration) error {
	sqlBytes, err := migrationFS.ReadFile(path.Join(migrationDir, m.File))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.File)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.File)
	}
	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, "execute %s", m.File)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, "record %s", m.File)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit %s", m.File)
	}
	return nil
}
