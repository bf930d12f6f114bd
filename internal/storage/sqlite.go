// Package storage is the local SQLite persistence layer: a resume-on-reload
// session cache (never authoritative; the session payload is) and the job
// registry for queued background imports.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kargohq/stevedore/internal/session"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// staleJobWindow is how long finished or abandoned registry entries survive.
// Anything older is purged when the store opens.
const staleJobWindow = 7 * 24 * time.Hour

// Store wraps a SQLite database with methods for sessions and the job registry.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir, runs pending
// migrations, and purges stale job registry entries.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "stevedore.db")
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

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if _, err := s.PurgeStaleJobs(staleJobWindow); err != nil {
		db.Close()
		return nil, fmt.Errorf("purging stale jobs: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
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

// --- Sessions ---

// SaveSession upserts the full session payload keyed by session id.
// Sessions without an id yet (first analyze not done) are not cacheable.
func (s *Store) SaveSession(sess *session.ImportSession) error {
	if sess.SessionID == "" {
		return fmt.Errorf("session has no id yet")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	filename := ""
	if sess.File != nil {
		filename = sess.File.Filename
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, phase, filename, payload_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			filename = excluded.filename,
			payload_json = excluded.payload_json,
			updated_at = excluded.updated_at`,
		sess.SessionID, string(sess.Phase), filename, string(payload), now, now,
	)
	return err
}

// LoadSession restores a cached session by id.
func (s *Store) LoadSession(id string) (*session.ImportSession, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload_json FROM sessions WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess session.ImportSession
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("unmarshaling session %s: %w", id, err)
	}
	return &sess, nil
}

// DeleteSession removes a cached session.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
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

// ListSessions returns recent cached sessions, newest first.
func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, phase, filename, updated_at
		FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var updatedAt string
		if err := rows.Scan(&r.ID, &r.Phase, &r.Filename, &updatedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		r.UpdatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Job registry ---

// PutJob registers a queued background import.
func (s *Store) PutJob(job JobRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	status := job.Status
	if status == "" {
		status = JobQueued
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (job_id, session_id, human_message, status, progress, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.SessionID, job.HumanMessage, status, job.Progress, job.Message, now, now,
	)
	return err
}

// GetJob looks up one registry entry.
func (s *Store) GetJob(jobID string) (JobRecord, error) {
	var j JobRecord
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT job_id, session_id, human_message, status, progress, message, created_at, updated_at
		FROM jobs WHERE job_id = ?`, jobID,
	).Scan(&j.JobID, &j.SessionID, &j.HumanMessage, &j.Status, &j.Progress, &j.Message, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return JobRecord{}, ErrNotFound
	}
	if err != nil {
		return JobRecord{}, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return JobRecord{}, fmt.Errorf("parsing created_at for job %s: %w", jobID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return JobRecord{}, fmt.Errorf("parsing updated_at for job %s: %w", jobID, err)
	}
	return j, nil
}

// UpdateJobStatus moves a registry entry along the queued|processing|
// completed|failed lifecycle.
func (s *Store) UpdateJobStatus(jobID, status string, progress int, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, progress = ?, message = ?, updated_at = ? WHERE job_id = ?`,
		status, progress, message, now, jobID,
	)
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

// RemoveJob drops a registry entry.
func (s *Store) RemoveJob(jobID string) error {
	res, err := s.db.Exec("DELETE FROM jobs WHERE job_id = ?", jobID)
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

// ListJobs returns registry entries, newest first.
func (s *Store) ListJobs(limit int) ([]JobRecord, error) {
	return s.queryJobs(`
		SELECT job_id, session_id, human_message, status, progress, message, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListActiveJobs returns the entries still worth polling, oldest first so
// long-waiting jobs are refreshed before recent ones.
func (s *Store) ListActiveJobs(limit int) ([]JobRecord, error) {
	return s.queryJobs(`
		SELECT job_id, session_id, human_message, status, progress, message, created_at, updated_at
		FROM jobs WHERE status IN (?, ?) ORDER BY updated_at ASC LIMIT ?`,
		JobQueued, JobProcessing, limit)
}

func (s *Store) queryJobs(query string, args ...any) ([]JobRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []JobRecord
	for rows.Next() {
		var j JobRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&j.JobID, &j.SessionID, &j.HumanMessage, &j.Status, &j.Progress, &j.Message, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for job %s: %w", j.JobID, err)
		}
		if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.JobID, err)
		}
		results = append(results, j)
	}
	return results, rows.Err()
}

// PurgeStaleJobs deletes registry entries not touched within the window.
// Returns the number of rows removed.
func (s *Store) PurgeStaleJobs(window time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-window).Format(time.RFC3339)
	res, err := s.db.Exec("DELETE FROM jobs WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
