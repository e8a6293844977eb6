package db

import (
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour behind a connection
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Rebind rewrites ? placeholders into $1..$n for postgres. Question marks
// inside single-quoted literals are left alone. SQLite queries pass through.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// migrationsDir returns the embedded directory holding this dialect's schema
func (d Dialect) migrationsDir() string {
	if d == DialectPostgres {
		return "postgres/migrations"
	}
	return "sqlite/migrations"
}
