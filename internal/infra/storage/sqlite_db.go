package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// InitSQLite initializes the local SQLite database and creates the necessary
// schemas for persisting sessions, the action log, scheduled results, and
// the encounter transcript.
func InitSQLite(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	// Create tables
	if err := createSchemas(db); err != nil {
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}

	return db, nil
}

func createSchemas(db *sql.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			scenario_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			start_real DATETIME NOT NULL,
			last_tick_real DATETIME NOT NULL,
			sim_time INTEGER NOT NULL DEFAULT 0,
			time_scale INTEGER NOT NULL,
			state_json TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sim_time INTEGER NOT NULL,
			action_type TEXT NOT NULL,
			action_key TEXT NOT NULL DEFAULT '',
			details_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);`,
		`CREATE TABLE IF NOT EXISTS pending_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			result_type TEXT NOT NULL,
			result_key TEXT NOT NULL,
			data_json TEXT NOT NULL,
			ordered_at_sim INTEGER NOT NULL,
			available_at_sim INTEGER NOT NULL,
			delivered BOOLEAN NOT NULL DEFAULT 0,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);`,
		`CREATE TABLE IF NOT EXISTS encounter_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sim_time INTEGER NOT NULL,
			role TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_session_id ON actions(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_pending_session_id ON pending_results(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_pending_due ON pending_results(session_id, delivered, available_at_sim);`,
		`CREATE INDEX IF NOT EXISTS idx_log_session_id ON encounter_log(session_id);`,
	}

	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
