package store

import (
	"context"
	"fmt"
	"time"
)

// ResetTimeout bounds a full catalog reset.
const ResetTimeout = 30 * time.Second

type resetFn struct {
	name string
	fn   func(ctx context.Context) error
}

// ResetAll truncates every table: the mineral catalog, the run history, and
// all import checkpoints. Destructive and not undoable; callers gate it
// behind explicit operator intent.
func (s *Store) ResetAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	resets := []resetFn{
		{"minerals", s.resetMinerals},
		{"import_checkpoints", s.resetImportCheckpoints},
		{"run_logs", s.resetRunLogs},
	}
	for _, r := range resets {
		if err := r.fn(ctx); err != nil {
			return fmt.Errorf("reset %s: %w", r.name, err)
		}
	}
	return nil
}

func (s *Store) resetMinerals(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE minerals`)
	return err
}

func (s *Store) resetImportCheckpoints(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE import_checkpoints`)
	return err
}

func (s *Store) resetRunLogs(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE run_logs`)
	return err
}
