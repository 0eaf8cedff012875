package indexstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const SchemaVersion = 2

// Migrate creates (or upgrades) the index schema in-place.
//
// The schema tracks:
// - projects known to the daemon
// - the current per-file state of each project (dirty flag, last result)
// - the append-only history of job results
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS projects (
			path TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			last_loaded_at TEXT
		);`,

		`CREATE TABLE IF NOT EXISTS files (
			project TEXT NOT NULL,
			path TEXT NOT NULL,
			dirty INTEGER NOT NULL DEFAULT 0,
			last_job_id TEXT,
			last_index_type TEXT,
			last_exit_code INTEGER,
			last_indexed_at TEXT,
			PRIMARY KEY(project, path),
			FOREIGN KEY(project) REFERENCES projects(path)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_files_dirty ON files(project, dirty);`,

		`CREATE TABLE IF NOT EXISTS job_results (
			result_id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			project TEXT NOT NULL,
			path TEXT NOT NULL,
			index_type TEXT NOT NULL,
			aborted INTEGER NOT NULL,
			exit_code INTEGER NOT NULL,
			finished_at TEXT NOT NULL,
			FOREIGN KEY(project) REFERENCES projects(path)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_results_file ON job_results(project, path);`,
		`CREATE INDEX IF NOT EXISTS idx_job_results_finished_at ON job_results(finished_at);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// v2: remember when a project was last loaded.
	if current < 2 {
		if _, err := tx.ExecContext(ctx, `ALTER TABLE projects ADD COLUMN last_loaded_at TEXT;`); err != nil {
			if !strings.Contains(err.Error(), "duplicate column name") {
				return fmt.Errorf("exec migration statement: %w", err)
			}
		}
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
