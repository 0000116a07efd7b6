package cron

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store handles persistence of scheduled jobs using SQLite
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new SQLite-backed job store at the given path
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cron_jobs (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			schedule   TEXT NOT NULL,
			task       TEXT NOT NULL,
			arguments  TEXT,
			enabled    INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			last_run   TEXT,
			last_error TEXT
		)
	`)
	return err
}

// Load reads all jobs from the database
func (s *Store) Load() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, schedule, task, arguments, enabled, created_at, last_run, last_error
		FROM cron_jobs ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// SaveJob upserts a single job into the database
func (s *Store) SaveJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	argsJSON, err := json.Marshal(job.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}

	var lastRun *string
	if job.LastRun != nil {
		t := job.LastRun.Format(time.RFC3339)
		lastRun = &t
	}
	var lastError *string
	if job.LastError != "" {
		lastError = &job.LastError
	}

	_, err = s.db.Exec(`
		INSERT INTO cron_jobs (id, name, schedule, task, arguments, enabled, created_at, last_run, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, schedule=excluded.schedule, task=excluded.task,
			arguments=excluded.arguments, enabled=excluded.enabled,
			last_run=excluded.last_run, last_error=excluded.last_error
	`,
		job.ID, job.Name, job.Schedule, job.Task, string(argsJSON), boolToInt(job.Enabled),
		job.CreatedAt.Format(time.RFC3339), lastRun, lastError,
	)
	return err
}

// DeleteJob removes a job from the database
func (s *Store) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM cron_jobs WHERE id = ?", id)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var (
		job       Job
		argsJSON  sql.NullString
		enabled   int
		createdAt string
		lastRun   sql.NullString
		lastError sql.NullString
	)
	if err := s.Scan(&job.ID, &job.Name, &job.Schedule, &job.Task, &argsJSON, &enabled, &createdAt, &lastRun, &lastError); err != nil {
		return nil, err
	}

	job.Enabled = enabled != 0
	job.LastError = lastError.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		job.CreatedAt = t
	}
	if lastRun.Valid {
		if t, err := time.Parse(time.RFC3339, lastRun.String); err == nil {
			job.LastRun = &t
		}
	}
	if argsJSON.Valid && argsJSON.String != "" && argsJSON.String != "null" {
		if err := json.Unmarshal([]byte(argsJSON.String), &job.Arguments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
	}
	return &job, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
