// Package database opens the shop's relational store and keeps its
// schema current. SQLite is the default; Postgres is supported for
// deployments that share the store with other services.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

// Supported dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DB is a *sql.DB that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the store. Driver is "sqlite3" (cgo), "sqlite"
// (pure Go, used by tests) or "postgres". For SQLite, a plain file path
// gets WAL mode and a busy timeout appended.
func Open(driver, dsn string) (*DB, error) {
	var dialect Dialect
	switch driver {
	case "sqlite3", "sqlite":
		dialect = SQLite
		if driver == "sqlite3" && dsn != ":memory:" && !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case "postgres":
		dialect = Postgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == SQLite {
		// One writer keeps SQLite from returning SQLITE_BUSY under load
		// and keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

// Wrap adopts an existing connection, for tests that open their own.
func Wrap(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, Dialect: dialect}
}

// Rebind converts ? placeholders to the dialect's style. Question marks
// inside single-quoted literals are left alone.
func (db *DB) Rebind(query string) string {
	if db.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Migrate applies pending schema migrations and returns what ran.
func (db *DB) Migrate(ctx context.Context) ([]*goose.MigrationResult, error) {
	dir, gooseDialect := "migrations/sqlite", goose.DialectSQLite3
	if db.Dialect == Postgres {
		dir, gooseDialect = "migrations/postgres", goose.DialectPostgres
	}
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations %s: %w", dir, err)
	}

	provider, err := goose.NewProvider(gooseDialect, db.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return results, fmt.Errorf("apply migrations: %w", err)
	}
	return results, nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure
// from any supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	// modernc.org/sqlite reports constraint failures through its own
	// error type; the message is stable across versions.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
