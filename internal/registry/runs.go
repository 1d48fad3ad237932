package registry

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Run states.
const (
	RunMounting  = "mounting"
	RunMounted   = "mounted"
	RunFailed    = "failed"
	RunUnmounted = "unmounted"
)

// Run is one graft attempt: which modules took part, the mounts that were
// realized, and how it ended. The request journal is what unmounting
// replays in reverse.
type Run struct {
	ID         int64           `json:"id"`
	Status     string          `json:"status"`
	Modules    []string        `json:"modules"`
	Requests   json.RawMessage `json:"requests,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// BeginRun records the start of a graft over the given modules.
func (d *DB) BeginRun(modules []string) (int64, error) {
	if modules == nil {
		modules = []string{}
	}
	modJSON, _ := json.Marshal(modules)
	res, err := d.db.Exec(`
		INSERT INTO runs (status, modules, started_at)
		VALUES (?, ?, ?)
	`, RunMounting, string(modJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishRun completes a run with its final status, the realized request
// journal, and an error message when it failed.
func (d *DB) FinishRun(id int64, status string, requests json.RawMessage, errMsg string) error {
	if requests == nil {
		requests = json.RawMessage("[]")
	}
	res, err := d.db.Exec(`
		UPDATE runs SET status = ?, requests = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, string(requests), errMsg, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetRunStatus updates only the run's status.
func (d *DB) SetRunStatus(id int64, status string) error {
	res, err := d.db.Exec(`UPDATE runs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetRun retrieves a run by id.
func (d *DB) GetRun(id int64) (*Run, error) {
	row := d.db.QueryRow(`
		SELECT id, status, modules, requests, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// LatestRun returns the most recent run, or nil when none exist.
func (d *DB) LatestRun() (*Run, error) {
	row := d.db.QueryRow(`
		SELECT id, status, modules, requests, error, started_at, finished_at
		FROM runs ORDER BY id DESC LIMIT 1
	`)
	return scanRun(row)
}

// ListRuns returns up to limit runs, newest first.
func (d *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(`
		SELECT id, status, modules, requests, error, started_at, finished_at
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row *sql.Row) (*Run, error) {
	var r Run
	var modJSON, reqJSON, startedStr, finishedStr string
	err := row.Scan(&r.ID, &r.Status, &modJSON, &reqJSON, &r.Error, &startedStr, &finishedStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(modJSON), &r.Modules)
	r.Requests = json.RawMessage(reqJSON)
	r.StartedAt, _ = time.Parse(time.RFC3339, startedStr)
	if finishedStr != "" {
		r.FinishedAt, _ = time.Parse(time.RFC3339, finishedStr)
	}
	return &r, nil
}

func scanRunRow(rows *sql.Rows) (*Run, error) {
	var r Run
	var modJSON, reqJSON, startedStr, finishedStr string
	err := rows.Scan(&r.ID, &r.Status, &modJSON, &reqJSON, &r.Error, &startedStr, &finishedStr)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(modJSON), &r.Modules)
	r.Requests = json.RawMessage(reqJSON)
	r.StartedAt, _ = time.Parse(time.RFC3339, startedStr)
	if finishedStr != "" {
		r.FinishedAt, _ = time.Parse(time.RFC3339, finishedStr)
	}
	return &r, nil
}
