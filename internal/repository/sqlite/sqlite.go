// Package sqlite implements the repository interfaces on SQLite via the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver with database/sql
)

// DB wraps a sql.DB connection pool and provides the repository methods.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
// Use ":memory:" for tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// SQLite supports one writer at a time. Capping the pool at a single
	// connection serializes every statistics merge, which is what makes
	// the read-modify-write in RecordSession safe under concurrent
	// submissions. WAL still allows readers alongside the writer, and the
	// busy timeout covers the handover between transactions.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting pragmas: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it safe to
// run on every startup.
//
// The partial unique index on LOWER(display_name) is what enforces the
// first-come-first-served name rule at the storage level: the reserved
// default names are excluded from the index so any number of users can
// hold them, while every other name belongs to at most one user at any
// instant, case-insensitively. Rename races resolve here, not in
// application-level check-then-set code.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			provider       TEXT NOT NULL,
			provider_id    TEXT NOT NULL,
			display_name   TEXT NOT NULL,
			email          TEXT NOT NULL DEFAULT '',
			avatar_url     TEXT NOT NULL DEFAULT '',
			best_score     INTEGER NOT NULL DEFAULT 0,
			games_played   INTEGER NOT NULL DEFAULT 0,
			total_perfects INTEGER NOT NULL DEFAULT 0,
			best_combo     INTEGER NOT NULL DEFAULT 0,
			total_score    INTEGER NOT NULL DEFAULT 0,
			xp             INTEGER NOT NULL DEFAULT 0,
			achievements   TEXT NOT NULL DEFAULT '[]',
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(provider, provider_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_display_name
			ON users(LOWER(display_name))
			WHERE display_name NOT IN ('Player', 'Guest');
		CREATE INDEX IF NOT EXISTS idx_users_best ON users(best_score DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS scores (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id),
			score       INTEGER NOT NULL,
			max_combo   INTEGER NOT NULL DEFAULT 0,
			perfects    INTEGER NOT NULL DEFAULT 0,
			zone        TEXT NOT NULL DEFAULT '',
			session_key TEXT,
			played_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_scores_user ON scores(user_id);
		CREATE INDEX IF NOT EXISTS idx_scores_score ON scores(score DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_scores_session_key
			ON scores(session_key)
			WHERE session_key IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("creating scores table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// modernc.org/sqlite surfaces these as driver errors whose message
// contains the SQLite constraint text, so matching on it is the
// stable way to detect them without importing driver internals.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isNameViolation reports whether err is specifically a display-name
// uniqueness failure (the partial index is reported by name).
func isNameViolation(err error) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), "idx_users_display_name")
}
