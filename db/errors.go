package db

import (
	"strings"

	"github.com/teranos/qaflow/errors"
)

// ErrDatabaseClosed is returned when operations run after shutdown closed the database.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err is ErrDatabaseClosed or a raw driver
// error saying the same thing. Workers use it to exit quietly during shutdown.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
