package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lithodex/lithodex/internal/mineral"
)

// ClearMinerals empties the minerals table inside its own transaction and
// drops any stale import checkpoints. This is the full-replace step of a
// bulk import; live sync never calls it.
func (s *Store) ClearMinerals(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin clear transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM minerals`); err != nil {
		return fmt.Errorf("clear minerals: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM import_checkpoints`); err != nil {
		return fmt.Errorf("clear import checkpoints: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit clear transaction: %w", err)
	}
	return nil
}

// ApplyImportBatch inserts a batch of records with one multi-row INSERT and
// advances the import checkpoint in the same transaction, so a restart
// resumes exactly after the last committed batch. Any failure rolls back
// the whole batch; the caller falls back to per-row inserts.
func (s *Store) ApplyImportBatch(ctx context.Context, rows []*mineral.Record, fingerprint string, runID uuid.UUID, lastRowIndex int) error {
	if len(rows) == 0 {
		return nil
	}

	query, args := buildBatchInsert(rows)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch insert %d rows: %w", len(rows), err)
	}
	if err := upsertCheckpoint(ctx, tx, fingerprint, runID, lastRowIndex); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch transaction: %w", err)
	}
	return nil
}

// InsertImportRow inserts a single record outside any batch. Used by the
// per-row fallback path so well-formed rows commit even when a batch
// contained a bad one.
func (s *Store) InsertImportRow(ctx context.Context, rec *mineral.Record) error {
	return execInsertMineral(ctx, s.pool, rec)
}

// SaveImportCheckpoint records progress after a per-row fallback pass.
func (s *Store) SaveImportCheckpoint(ctx context.Context, fingerprint string, runID uuid.UUID, lastRowIndex int) error {
	return upsertCheckpoint(ctx, s.pool, fingerprint, runID, lastRowIndex)
}

// LoadImportCheckpoint returns the last committed row index for a file
// fingerprint. Found is false when no checkpoint exists.
func (s *Store) LoadImportCheckpoint(ctx context.Context, fingerprint string) (int, bool, error) {
	var lastRow int
	err := s.pool.QueryRow(ctx,
		`SELECT last_row_index FROM import_checkpoints WHERE file_fingerprint = $1`,
		fingerprint).Scan(&lastRow)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return lastRow, true, nil
}

func upsertCheckpoint(ctx context.Context, db DBTX, fingerprint string, runID uuid.UUID, lastRowIndex int) error {
	_, err := db.Exec(ctx,
		`INSERT INTO import_checkpoints (file_fingerprint, run_id, last_row_index, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (file_fingerprint)
		DO UPDATE SET run_id = $2, last_row_index = $3, updated_at = $4`,
		fingerprint, runID, lastRowIndex, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint at row %d: %w", lastRowIndex, err)
	}
	return nil
}

// buildBatchInsert renders one INSERT with a VALUES tuple per record.
func buildBatchInsert(rows []*mineral.Record) (string, []interface{}) {
	const cols = 18
	var b strings.Builder
	b.WriteString(`INSERT INTO minerals (` + mineralColumns + `) VALUES `)

	args := make([]interface{}, 0, len(rows)*cols)
	for i, rec := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < cols; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*cols+j+1)
		}
		b.WriteByte(')')
		args = append(args, mineralArgs(rec)...)
	}
	return b.String(), args
}
