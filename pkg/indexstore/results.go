package indexstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ResultRow is one finished indexing job as recorded in job_results.
type ResultRow struct {
	ResultID   int64
	JobID      string
	Project    string
	Path       string
	IndexType  string
	Aborted    bool
	ExitCode   int
	FinishedAt time.Time
}

// FileRow is the current state of one file of a project.
type FileRow struct {
	Project       string
	Path          string
	Dirty         bool
	LastJobID     string
	LastIndexType string
	LastExitCode  int
	LastIndexedAt *time.Time
}

// ProjectRow is one project known to the store.
type ProjectRow struct {
	Path         string
	CreatedAt    time.Time
	LastLoadedAt *time.Time
}

// EnsureProject registers project if it is not known yet.
func EnsureProject(ctx context.Context, db *sql.DB, project string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO projects (path, created_at) VALUES (?, ?)
		 ON CONFLICT(path) DO NOTHING`,
		project, formatDBTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("ensure project: %w", err)
	}
	return nil
}

// MarkProjectLoaded stamps the project's last load time.
func MarkProjectLoaded(ctx context.Context, db *sql.DB, project string, at time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := EnsureProject(ctx, db, project); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx,
		`UPDATE projects SET last_loaded_at = ? WHERE path = ?`,
		formatDBTime(at), project)
	if err != nil {
		return fmt.Errorf("mark project loaded: %w", err)
	}
	return nil
}

// ListProjects returns every known project ordered by path.
func ListProjects(ctx context.Context, db *sql.DB) ([]ProjectRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := db.QueryContext(ctx,
		`SELECT path, created_at, last_loaded_at FROM projects ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ProjectRow
	for rows.Next() {
		var p ProjectRow
		var createdRaw string
		var loadedRaw sql.NullString
		if err := rows.Scan(&p.Path, &createdRaw, &loadedRaw); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if p.CreatedAt, err = parseDBTime(createdRaw); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if p.LastLoadedAt, err = parseOptionalDBTime(loadedRaw); err != nil {
			return nil, fmt.Errorf("parse last_loaded_at: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordResult appends r to the result history and updates the file's
// current state in one transaction. An aborted result marks the file dirty;
// any other result clears the flag.
func RecordResult(ctx context.Context, db *sql.DB, r ResultRow) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Project == "" || r.Path == "" {
		return 0, errors.New("result needs a project and a path")
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	finished := formatDBTime(r.FinishedAt)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (path, created_at) VALUES (?, ?)
		 ON CONFLICT(path) DO NOTHING`,
		r.Project, finished); err != nil {
		return 0, fmt.Errorf("ensure project: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO job_results
		 (job_id, project, path, index_type, aborted, exit_code, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.Project, r.Path, r.IndexType, boolToInt(r.Aborted), r.ExitCode, finished)
	if err != nil {
		return 0, fmt.Errorf("insert job result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("job result id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO files
		 (project, path, dirty, last_job_id, last_index_type, last_exit_code, last_indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project, path) DO UPDATE SET
		   dirty = excluded.dirty,
		   last_job_id = excluded.last_job_id,
		   last_index_type = excluded.last_index_type,
		   last_exit_code = excluded.last_exit_code,
		   last_indexed_at = excluded.last_indexed_at`,
		r.Project, r.Path, boolToInt(r.Aborted), r.JobID, r.IndexType, r.ExitCode, finished); err != nil {
		return 0, fmt.Errorf("upsert file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

// LatestResults returns the most recent result of every file in project,
// ordered by path.
func LatestResults(ctx context.Context, db *sql.DB, project string) ([]ResultRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := db.QueryContext(ctx,
		`SELECT r.result_id, r.job_id, r.project, r.path, r.index_type,
		        r.aborted, r.exit_code, r.finished_at
		 FROM job_results r
		 JOIN (SELECT path, MAX(result_id) AS result_id
		       FROM job_results WHERE project = ? GROUP BY path) latest
		   ON latest.result_id = r.result_id
		 ORDER BY r.path`,
		project)
	if err != nil {
		return nil, fmt.Errorf("latest results: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows)
}

// ResultsForFile returns the result history of one file, newest first.
// limit <= 0 returns everything.
func ResultsForFile(ctx context.Context, db *sql.DB, project, path string, limit int) ([]ResultRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	query := `SELECT result_id, job_id, project, path, index_type, aborted, exit_code, finished_at
		 FROM job_results WHERE project = ? AND path = ? ORDER BY result_id DESC`
	args := []any{project, path}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("results for file: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows)
}

// DirtyFiles returns the files of project whose last job was aborted.
func DirtyFiles(ctx context.Context, db *sql.DB, project string) ([]FileRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := db.QueryContext(ctx,
		`SELECT project, path, dirty, last_job_id, last_index_type, last_exit_code, last_indexed_at
		 FROM files WHERE project = ? AND dirty = 1 ORDER BY path`,
		project)
	if err != nil {
		return nil, fmt.Errorf("dirty files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FileRow
	for rows.Next() {
		var f FileRow
		var dirty int
		var jobID, indexType, indexedAt sql.NullString
		var exitCode sql.NullInt64
		if err := rows.Scan(&f.Project, &f.Path, &dirty, &jobID, &indexType, &exitCode, &indexedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.Dirty = dirty != 0
		f.LastJobID = jobID.String
		f.LastIndexType = indexType.String
		f.LastExitCode = int(exitCode.Int64)
		if f.LastIndexedAt, err = parseOptionalDBTime(indexedAt); err != nil {
			return nil, fmt.Errorf("parse last_indexed_at: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PurgeResults deletes result history older than olderThan. The current file
// state is kept.
func PurgeResults(ctx context.Context, db *sql.DB, olderThan time.Time) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := db.ExecContext(ctx,
		`DELETE FROM job_results WHERE finished_at < ?`,
		formatDBTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

func scanResults(rows *sql.Rows) ([]ResultRow, error) {
	var out []ResultRow
	for rows.Next() {
		var r ResultRow
		var aborted int
		var finishedRaw string
		if err := rows.Scan(&r.ResultID, &r.JobID, &r.Project, &r.Path, &r.IndexType,
			&aborted, &r.ExitCode, &finishedRaw); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Aborted = aborted != 0
		finished, err := parseDBTime(finishedRaw)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		r.FinishedAt = finished
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
