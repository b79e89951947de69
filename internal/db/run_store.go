package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run lifecycle states.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Run struct {
	RunID      string     `json:"run_id"`
	Region     string     `json:"region"`
	WindowKey  string     `json:"window_key"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CreateRun records a queued pipeline run and returns its ID.
func (db *DB) CreateRun(region, windowKey string, createdAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO runs (run_id, region, window_key, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, region, windowKey, RunQueued, createdAt.UTC())
	if err != nil {
		return "", persistErr("create run", err)
	}
	return id, nil
}

// UpdateRunStatus advances a run through its lifecycle. Moving to running
// stamps started_at; moving to completed or failed stamps finished_at.
func (db *DB) UpdateRunStatus(runID, status, detail string, at time.Time) error {
	var res sql.Result
	var err error
	switch status {
	case RunRunning:
		res, err = db.Exec(`UPDATE runs SET status = ?, detail = ?, started_at = ? WHERE run_id = ?`,
			status, detail, at.UTC(), runID)
	case RunCompleted, RunFailed:
		res, err = db.Exec(`UPDATE runs SET status = ?, detail = ?, finished_at = ? WHERE run_id = ?`,
			status, detail, at.UTC(), runID)
	case RunQueued:
		res, err = db.Exec(`UPDATE runs SET status = ?, detail = ? WHERE run_id = ?`,
			status, detail, runID)
	default:
		return fmt.Errorf("unknown run status %q", status)
	}
	if err != nil {
		return persistErr("update run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update run", err)
	}
	if n == 0 {
		return fmt.Errorf("no run with id %q", runID)
	}
	return nil
}

// GetRun returns nil when the ID is unknown.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`SELECT run_id, region, window_key, status, detail,
		started_at, finished_at, created_at FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get run", err)
	}
	return &r, nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT run_id, region, window_key, status, detail,
		started_at, finished_at, created_at FROM runs
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, persistErr("recent runs", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, persistErr("recent runs", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("recent runs", err)
	}
	return out, nil
}

func scanRun(r rowScanner) (Run, error) {
	var run Run
	var started, finished sql.NullTime
	err := r.Scan(&run.RunID, &run.Region, &run.WindowKey, &run.Status, &run.Detail,
		&started, &finished, &run.CreatedAt)
	if err != nil {
		return Run{}, err
	}
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}
