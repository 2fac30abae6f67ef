package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database holding vector points and the job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "contextmore.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for components sharing the file, such as the
// SQLite vector store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Jobs ---

// EnqueueJob inserts a job. An empty status enqueues it as pending.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	status := job.Status
	if status == "" {
		status = JobPending
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, subject, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Subject, job.PayloadJSON, status, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob moves the oldest due pending job of the given types to running.
// Returns nil, nil when nothing is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, subject, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.Subject, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is retried with exponential
// backoff until max_attempts is reached, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

// --- Update journal ---

// BeginUpdate records a write-ahead marker for a non-atomic document update.
// The entry stays inflight, invisible to ClaimNextJob, until it is completed
// or released.
func (s *Store) BeginUpdate(job Job) error {
	job.Status = JobInflight
	return s.EnqueueJob(job)
}

// CompleteUpdate marks an inflight update as finished.
func (s *Store) CompleteUpdate(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ? AND status = 'inflight'`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseUpdate turns an interrupted inflight update into a pending job so a
// recovery worker can replay it.
func (s *Store) ReleaseUpdate(id string, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'pending', last_error = ?, run_after = ?, updated_at = ? WHERE id = ? AND status = 'inflight'`,
		errMsg, now, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// OpenUpdates returns the unfinished journal entries of jobType for subject,
// newest first. Failed entries count as unfinished: their update never
// landed.
func (s *Store) OpenUpdates(jobType, subject string) ([]Job, error) {
	rows, err := s.db.Query(`SELECT id, type, subject, payload_json, status, attempts, max_attempts, created_at
		FROM jobs
		WHERE type = ? AND subject = ? AND status IN ('pending', 'inflight', 'running', 'failed')
		ORDER BY created_at DESC, rowid DESC`, jobType, subject)
	if err != nil {
		return nil, fmt.Errorf("listing open updates of %s: %w", subject, err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var createdAt string
		if err := rows.Scan(&j.ID, &j.Type, &j.Subject, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts, &createdAt); err != nil {
			return nil, err
		}
		if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SupersedeUpdates marks every unfinished entry of jobType for subject,
// except exceptID, as superseded. It returns the number of entries marked.
func (s *Store) SupersedeUpdates(jobType, subject, exceptID string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'superseded', updated_at = ?
		WHERE type = ? AND subject = ? AND id != ? AND status IN ('pending', 'inflight', 'running', 'failed')`,
		now, jobType, subject, exceptID)
	if err != nil {
		return 0, fmt.Errorf("superseding updates of %s: %w", subject, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// JobStatus returns the current status of a job.
func (s *Store) JobStatus(id string) (string, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// RecoverInflight releases every inflight entry and every job left running.
// It is called at startup, when no update can still be in progress, and
// returns the number of entries released.
func (s *Store) RecoverInflight() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'pending', last_error = COALESCE(last_error, 'interrupted'), run_after = ?, updated_at = ?
		WHERE status IN ('inflight', 'running')`, now, now)
	if err != nil {
		return 0, fmt.Errorf("releasing interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountJobs returns the number of jobs per status.
func (s *Store) CountJobs() (JobCounts, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(JobCounts)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
