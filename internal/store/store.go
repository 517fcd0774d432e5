package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id         TEXT PRIMARY KEY,
	objective_hash TEXT NOT NULL,
	intent         TEXT,
	outcome        TEXT,
	iterations     INTEGER NOT NULL DEFAULT 0,
	final_reward   REAL,
	output         TEXT,
	started_at     TEXT NOT NULL,
	finished_at    TEXT
);

CREATE TABLE IF NOT EXISTS iteration_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	iteration       INTEGER NOT NULL,
	action          TEXT NOT NULL,
	state_key       TEXT NOT NULL,
	next_state_key  TEXT NOT NULL,
	passed          INTEGER NOT NULL DEFAULT 0,
	feedback_code   TEXT,
	semantic_issues TEXT,
	reward_total    REAL NOT NULL,
	constraint_score REAL NOT NULL,
	quality_score   REAL NOT NULL,
	details_json    TEXT,
	output          TEXT,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_iteration_log_run
ON iteration_log(run_id, iteration);

CREATE TABLE IF NOT EXISTS experiences (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	state_key      TEXT NOT NULL,
	action         TEXT NOT NULL,
	reward         REAL NOT NULL,
	next_state_key TEXT NOT NULL,
	terminal       INTEGER NOT NULL DEFAULT 0,
	objective_hash TEXT NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experiences_objective
ON experiences(objective_hash);
`
// #endregion schema

// #region store-struct
// Store owns the SQLite handle shared by the experience log and the
// iteration log.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// Open opens a SQLite database and runs migrations. Use ":memory:" for an
// ephemeral store.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor
