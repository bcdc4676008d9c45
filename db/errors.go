package db

import (
	"strings"

	"github.com/teranos/zbulk/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database, typically a runner recording an outcome during shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// Falls back to message matching because database/sql returns its own
// unexported error for this case.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	return strings.Contains(err.Error(), "database is closed")
}
