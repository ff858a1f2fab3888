// Package store provides Postgres persistence for mineral records, run
// logs, and import checkpoints. It is the only package that speaks SQL;
// the sync and import pipelines consume it through narrow interfaces.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lithodex/lithodex/internal/mineral"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store wraps a pgx connection pool with the queries the ingestion
// pipelines and the read API need.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

const mineralColumns = `id, name, formula, crystal_system, crystal_class_id, space_group,
	cell_a, cell_b, cell_c, cell_alpha, cell_beta, cell_gamma,
	elements, description, ima_status, source_update_time, last_updated_locally, is_active`

// GetMineral looks up one record by ID. The second return value reports
// whether a record was found.
func (s *Store) GetMineral(ctx context.Context, id int64) (*mineral.Record, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mineralColumns+` FROM minerals WHERE id = $1`, id)

	rec, err := scanMineral(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get mineral %d: %w", id, err)
	}
	return rec, true, nil
}

// InsertMineral inserts a new record.
func (s *Store) InsertMineral(ctx context.Context, rec *mineral.Record) error {
	if err := execInsertMineral(ctx, s.pool, rec); err != nil {
		return fmt.Errorf("insert mineral %d (%s): %w", rec.ID, rec.Name, err)
	}
	return nil
}

// UpdateMineral replaces all fields of an existing record.
func (s *Store) UpdateMineral(ctx context.Context, rec *mineral.Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE minerals SET
			name = $2, formula = $3, crystal_system = $4, crystal_class_id = $5,
			space_group = $6, cell_a = $7, cell_b = $8, cell_c = $9,
			cell_alpha = $10, cell_beta = $11, cell_gamma = $12,
			elements = $13, description = $14, ima_status = $15,
			source_update_time = $16, last_updated_locally = $17, is_active = $18
		WHERE id = $1`,
		mineralArgs(rec)...)
	if err != nil {
		return fmt.Errorf("update mineral %d (%s): %w", rec.ID, rec.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update mineral %d: no row affected", rec.ID)
	}
	return nil
}

// MaxSourceUpdateTime returns the newest source update timestamp among
// stored records. The second return value is false when the store holds no
// timestamped records.
func (s *Store) MaxSourceUpdateTime(ctx context.Context) (time.Time, bool, error) {
	var max *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(source_update_time) FROM minerals`).Scan(&max)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query watermark: %w", err)
	}
	if max == nil {
		return time.Time{}, false, nil
	}
	return max.UTC(), true, nil
}

// CountActiveMinerals returns the number of active records.
func (s *Store) CountActiveMinerals(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM minerals WHERE is_active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count minerals: %w", err)
	}
	return n, nil
}

// SearchMinerals serves the presentation layer: optional case-insensitive
// name filter and element filter, newest first.
func (s *Store) SearchMinerals(ctx context.Context, name, element string, limit, offset int) ([]*mineral.Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var conds []string
	var args []interface{}
	conds = append(conds, "is_active")
	if name != "" {
		args = append(args, "%"+name+"%")
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if element != "" {
		args = append(args, element)
		conds = append(conds, fmt.Sprintf("$%d = ANY(elements)", len(args)))
	}

	query := fmt.Sprintf(
		`SELECT %s FROM minerals WHERE %s ORDER BY name LIMIT $%d OFFSET $%d`,
		mineralColumns, strings.Join(conds, " AND "), len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search minerals: %w", err)
	}
	defer rows.Close()

	var out []*mineral.Record
	for rows.Next() {
		rec, err := scanMineral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mineral: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search rows: %w", err)
	}
	return out, nil
}

// execInsertMineral runs the insert against any DBTX so batch fallback can
// reuse it inside a transaction.
func execInsertMineral(ctx context.Context, db DBTX, rec *mineral.Record) error {
	_, err := db.Exec(ctx,
		`INSERT INTO minerals (`+mineralColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		mineralArgs(rec)...)
	return err
}

func mineralArgs(rec *mineral.Record) []interface{} {
	return []interface{}{
		rec.ID, rec.Name, rec.Formula, rec.CrystalSystem, rec.CrystalClassID,
		rec.SpaceGroup, rec.CellA, rec.CellB, rec.CellC,
		rec.CellAlpha, rec.CellBeta, rec.CellGamma,
		rec.Elements, rec.Description, rec.IMAStatus,
		rec.SourceUpdateTime, rec.LastUpdatedLocally, rec.IsActive,
	}
}

func scanMineral(row pgx.Row) (*mineral.Record, error) {
	rec := &mineral.Record{}
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Formula, &rec.CrystalSystem, &rec.CrystalClassID,
		&rec.SpaceGroup, &rec.CellA, &rec.CellB, &rec.CellC,
		&rec.CellAlpha, &rec.CellBeta, &rec.CellGamma,
		&rec.Elements, &rec.Description, &rec.IMAStatus,
		&rec.SourceUpdateTime, &rec.LastUpdatedLocally, &rec.IsActive,
	)
	if err != nil {
		return nil, err
	}
	if rec.Elements == nil {
		rec.Elements = []string{}
	}
	return rec, nil
}
