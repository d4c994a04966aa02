// SPDX-License-Identifier: MIT

// Package history archives terminal job runs in SQLite so finished, failed
// and canceled runs survive job deletion and restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/scribedev/scribed/internal/model"
)

const schemaVersion = 1

// Entry is one archived run.
type Entry struct {
	JobID      string    `json:"job_id"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status"`
	Language   string    `json:"language,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store wraps the archive database.
type Store struct {
	db *sql.DB
}

// Open creates or migrates the archive at dbPath. WAL mode and busy_timeout
// are set through the DSN so they apply to every pooled connection.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		job_id      TEXT NOT NULL,
		filename    TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		language    TEXT NOT NULL DEFAULT '',
		error_kind  TEXT NOT NULL DEFAULT '',
		last_error  TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		PRIMARY KEY (job_id, finished_at)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Record archives one terminal run. Non-terminal jobs are rejected.
func (s *Store) Record(ctx context.Context, job *model.Job) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("history: job %s is not terminal (%s)", job.ID, job.Status)
	}
	query := `
	INSERT INTO runs (job_id, filename, title, status, language, error_kind, last_error, created_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id, finished_at) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.Filename, job.Title, string(job.Status), job.Language,
		job.ErrorKind, job.LastError,
		job.CreatedAt.UTC().Format(time.RFC3339),
		job.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Recent returns the newest archived runs, capped at limit (default 50).
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, filename, title, status, language, error_kind, last_error, created_at, finished_at
		 FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created, finished string
		if err := rows.Scan(&e.JobID, &e.Filename, &e.Title, &e.Status, &e.Language,
			&e.ErrorKind, &e.LastError, &created, &finished); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		e.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
