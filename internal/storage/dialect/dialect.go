// Package dialect abstracts the SQL differences between the supported
// database backends.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect represents a SQL database dialect.
type Dialect interface {
	// Name returns the dialect name ("sqlite" or "postgres").
	Name() string

	// DriverName returns the database/sql driver name to use.
	DriverName() string

	// PragmaStatements returns dialect-specific initialization statements.
	PragmaStatements() []string

	// SelectForUpdate decorates a SELECT so the read row stays locked for
	// the rest of the transaction, where the dialect needs it.
	SelectForUpdate(query string) string
}

// New returns the dialect for a backend name.
func New(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	case "postgres", "pgx":
		return &postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", name)
	}
}

type sqliteDialect struct{}

func (d *sqliteDialect) Name() string       { return "sqlite" }
func (d *sqliteDialect) DriverName() string { return "sqlite" }

func (d *sqliteDialect) PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
}

// SQLite serializes writers; no row lock clause exists or is needed.
func (d *sqliteDialect) SelectForUpdate(query string) string { return query }

type postgresDialect struct{}

func (d *postgresDialect) Name() string       { return "postgres" }
func (d *postgresDialect) DriverName() string { return "pgx" }

func (d *postgresDialect) PragmaStatements() []string { return nil }

func (d *postgresDialect) SelectForUpdate(query string) string {
	return query + " FOR UPDATE"
}
