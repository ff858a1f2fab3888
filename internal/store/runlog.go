package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run types and terminal statuses for run logs.
const (
	RunTypeFullSync        = "full-sync"
	RunTypeIncrementalSync = "incremental-sync"
	RunTypeBulkImport      = "bulk-import"

	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// MaxRunErrors bounds the error list persisted with a run log. Counts keep
// accumulating past the bound; only the messages are capped.
const MaxRunErrors = 50

// RunLog records one sync or import execution's lifecycle and outcome.
type RunLog struct {
	ID          uuid.UUID  `json:"id"`
	RunType     string     `json:"runType"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	Processed   int        `json:"processed"`
	Added       int        `json:"added"`
	Updated     int        `json:"updated"`
	ErrorCount  int        `json:"errorCount"`
	Errors      []string   `json:"errors"`
	Details     string     `json:"details"`
}

// CreateRun inserts a run log in status=running and returns its ID.
func (s *Store) CreateRun(ctx context.Context, runType string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_logs (id, run_type, status, started_at)
		VALUES ($1, $2, $3, $4)`,
		id, runType, RunStatusRunning, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("create run log: %w", err)
	}
	return id, nil
}

// FinalizeRun marks a run terminal exactly once. A run already out of the
// running state is left untouched.
func (s *Store) FinalizeRun(ctx context.Context, id uuid.UUID, status string, processed, added, updated, errorCount int, errs []string, details string) error {
	if len(errs) > MaxRunErrors {
		errs = errs[:MaxRunErrors]
	}
	if errs == nil {
		errs = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_logs SET
			status = $2, completed_at = $3,
			processed = $4, added = $5, updated = $6, error_count = $7,
			errors = $8, details = $9
		WHERE id = $1 AND status = $10`,
		id, status, time.Now().UTC(),
		processed, added, updated, errorCount,
		errs, details, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalize run %s: run is not in running state", id)
	}
	return nil
}

// GetRun fetches one run log by ID. Found is false when no such run exists.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*RunLog, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_type, status, started_at, completed_at,
			processed, added, updated, error_count, errors, details
		FROM run_logs WHERE id = $1`, id)
	if err != nil {
		return nil, false, fmt.Errorf("get run %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, false, fmt.Errorf("scan run %s: %w", id, err)
	}
	return run, true, nil
}

// ListRuns returns the most recent run logs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_type, status, started_at, completed_at,
			processed, added, updated, error_count, errors, details
		FROM run_logs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*RunLog
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type runScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row runScanner) (*RunLog, error) {
	run := &RunLog{}
	err := row.Scan(
		&run.ID, &run.RunType, &run.Status, &run.StartedAt, &run.CompletedAt,
		&run.Processed, &run.Added, &run.Updated, &run.ErrorCount,
		&run.Errors, &run.Details,
	)
	if err != nil {
		return nil, err
	}
	if run.Errors == nil {
		run.Errors = []string{}
	}
	return run, nil
}
