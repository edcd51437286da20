// Package db owns the SQLite connection and schema migrations backing the
// batch processor's crash-safe persistence (spec.md §9: "a crash-safe
// implementation persists BatchState to durable storage ... and resumes by
// reading current phase on start"). modernc.org/sqlite is a pure-Go driver,
// so the resulting binary needs no cgo toolchain to embed SQLite — the same
// choice the teacher's own db package makes for its local chat history.
package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending goose migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	// The batch processor is single-writer per (batch_id, chunk_id) but many
	// batches share one *sql.DB; SQLite only allows one writer at a time.
	conn.SetMaxOpenConns(1)

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("db: set dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return nil, fmt.Errorf("db: migrate %s: %w", path, err)
	}
	return conn, nil
}
