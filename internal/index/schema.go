// Package index is the SQLite store for imported people and their
// relationships, with optional FTS5 name search.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS peoples (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	cpf_hash       TEXT NOT NULL UNIQUE,
	email          TEXT NOT NULL DEFAULT '',
	birth_date     TEXT NOT NULL DEFAULT '',
	gender         TEXT NOT NULL DEFAULT '',
	marital_status TEXT NOT NULL DEFAULT '',
	external_data  TEXT NOT NULL DEFAULT '{}',
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS relationships (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	person_id         TEXT NOT NULL REFERENCES peoples(id) ON DELETE CASCADE,
	related_person_id TEXT NOT NULL,
	relationship_type TEXT NOT NULL CHECK (relationship_type IN ('father', 'mother', 'spouse', 'child')),
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(person_id, related_person_id, relationship_type)
);

CREATE INDEX IF NOT EXISTS idx_peoples_name ON peoples(name);
CREATE INDEX IF NOT EXISTS idx_relationships_person ON relationships(person_id);
CREATE INDEX IF NOT EXISTS idx_relationships_related ON relationships(related_person_id);
`

// DB wraps a sql.DB with person and relationship operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
