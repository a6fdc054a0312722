// Package statestore persists DagRun state and resume tokens in sqlite
// (WAL journal mode, foreign keys on, cgo-free modernc.org/sqlite
// driver).
package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register the cgo-free sqlite driver
)

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode = WAL;`
	pragmaForeignKeysOn  = `PRAGMA foreign_keys = ON;`

	dagRunSchema = `CREATE TABLE IF NOT EXISTS dag_runs (
		run_id TEXT PRIMARY KEY,
		dag_name TEXT NOT NULL,
		tenant TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		task_outputs TEXT NOT NULL DEFAULT '{}',
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);`

	resumeTokenSchema = `CREATE TABLE IF NOT EXISTS resume_tokens (
		dag_run_id TEXT PRIMARY KEY,
		next_task_id TEXT NOT NULL,
		tenant TEXT NOT NULL,
		ts DATETIME NOT NULL
	);`
)

// Status is a DagRun's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// DagRun is the persisted execution record for one DAG invocation.
type DagRun struct {
	RunID       string
	DagName     string
	Tenant      string
	Status      Status
	TaskOutputs map[string]map[string]any
	StartedAt   time.Time
	EndedAt     *time.Time
}

// ResumeToken records the next task to execute when a paused run resumes;
// one latest token exists per run.
type ResumeToken struct {
	DagRunID   string
	NextTaskID string
	Tenant     string
	Timestamp  time.Time
}

// Store wraps a sqlite-backed handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers over one handle

	for _, pragma := range []string{pragmaJournalModeWAL, pragmaForeignKeysOn} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("statestore: pragma %q: %w", pragma, err)
		}
	}
	for _, schema := range []string{dagRunSchema, resumeTokenSchema} {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("statestore: create schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// CreateRun inserts a new running DagRun.
func (s *Store) CreateRun(run DagRun) error {
	if run.TaskOutputs == nil {
		run.TaskOutputs = map[string]map[string]any{}
	}
	outputs, err := json.Marshal(run.TaskOutputs)
	if err != nil {
		return fmt.Errorf("statestore: marshal task_outputs: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO dag_runs (run_id, dag_name, tenant, status, task_outputs, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.DagName, run.Tenant, string(run.Status), string(outputs), run.StartedAt, run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("statestore: insert run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(runID string) (*DagRun, error) {
	row := s.db.QueryRow(
		`SELECT run_id, dag_name, tenant, status, task_outputs, started_at, ended_at FROM dag_runs WHERE run_id = ?`,
		runID,
	)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*DagRun, error) {
	var (
		run     DagRun
		status  string
		outputs string
		ended   sql.NullTime
	)
	if err := row.Scan(&run.RunID, &run.DagName, &run.Tenant, &status, &outputs, &run.StartedAt, &ended); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("statestore: scan run: %w", err)
	}
	run.Status = Status(status)
	if ended.Valid {
		run.EndedAt = &ended.Time
	}
	if err := json.Unmarshal([]byte(outputs), &run.TaskOutputs); err != nil {
		return nil, fmt.Errorf("statestore: decode task_outputs: %w", err)
	}
	return &run, nil
}

// UpdateRunStatus transitions status (running<->paused, or to a terminal
// success/error with ended_at stamped).
func (s *Store) UpdateRunStatus(runID string, status Status, endedAt *time.Time) error {
	_, err := s.db.Exec(`UPDATE dag_runs SET status = ?, ended_at = ? WHERE run_id = ?`, string(status), endedAt, runID)
	if err != nil {
		return fmt.Errorf("statestore: update status %s: %w", runID, err)
	}
	return nil
}

// SetTaskOutput merges one task's output into the run's task_outputs map.
func (s *Store) SetTaskOutput(runID, taskID string, output map[string]any) error {
	run, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("statestore: run %s not found", runID)
	}
	if run.TaskOutputs == nil {
		run.TaskOutputs = map[string]map[string]any{}
	}
	run.TaskOutputs[taskID] = output

	data, err := json.Marshal(run.TaskOutputs)
	if err != nil {
		return fmt.Errorf("statestore: marshal task_outputs: %w", err)
	}
	_, err = s.db.Exec(`UPDATE dag_runs SET task_outputs = ? WHERE run_id = ?`, string(data), runID)
	if err != nil {
		return fmt.Errorf("statestore: set task output %s/%s: %w", runID, taskID, err)
	}
	return nil
}

// PutResumeToken upserts the single latest resume token for a run.
func (s *Store) PutResumeToken(tok ResumeToken) error {
	_, err := s.db.Exec(
		`INSERT INTO resume_tokens (dag_run_id, next_task_id, tenant, ts) VALUES (?, ?, ?, ?)
		 ON CONFLICT(dag_run_id) DO UPDATE SET next_task_id = excluded.next_task_id, ts = excluded.ts`,
		tok.DagRunID, tok.NextTaskID, tok.Tenant, tok.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("statestore: put resume token %s: %w", tok.DagRunID, err)
	}
	return nil
}

// GetResumeToken returns the latest resume token for a run, if any.
func (s *Store) GetResumeToken(runID string) (*ResumeToken, error) {
	row := s.db.QueryRow(`SELECT dag_run_id, next_task_id, tenant, ts FROM resume_tokens WHERE dag_run_id = ?`, runID)
	var tok ResumeToken
	if err := row.Scan(&tok.DagRunID, &tok.NextTaskID, &tok.Tenant, &tok.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("statestore: scan resume token: %w", err)
	}
	return &tok, nil
}
