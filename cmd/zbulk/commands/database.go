package commands

import (
	"database/sql"

	"github.com/teranos/zbulk/am"
	"github.com/teranos/zbulk/db"
	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/logger"
)

// resolveDBPath picks the --db-path flag over the configured path
func resolveDBPath(cfg *am.Config, flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return cfg.GetDatabasePath()
}

// openDatabase opens and migrates the progress database at dbPath.
// Uses logger.Logger for db operations.
func openDatabase(dbPath string) (*sql.DB, error) {
	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	migrated, err := db.Migrate(database, logger.Logger)
	if err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}
	logger.Logger.Debugw("Database ready",
		"path", dbPath,
		"schema_version", migrated.Version,
		"migrations_applied", len(migrated.Applied),
	)

	return database, nil
}
