// Package importer performs batched, transactional loads of large offline
// mineral dataset exports. It is full-replace by policy: the destination
// table is cleared before loading, in contrast to the sync orchestrator's
// upsert merge. The two policies are deliberately separate.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/lithodex/lithodex/internal/mineral"
	"github.com/lithodex/lithodex/internal/store"
)

// Store is the persistence surface the importer needs.
type Store interface {
	ClearMinerals(ctx context.Context) error
	ApplyImportBatch(ctx context.Context, rows []*mineral.Record, fingerprint string, runID uuid.UUID, lastRowIndex int) error
	InsertImportRow(ctx context.Context, rec *mineral.Record) error
	SaveImportCheckpoint(ctx context.Context, fingerprint string, runID uuid.UUID, lastRowIndex int) error
	LoadImportCheckpoint(ctx context.Context, fingerprint string) (int, bool, error)
	CreateRun(ctx context.Context, runType string) (uuid.UUID, error)
	FinalizeRun(ctx context.Context, id uuid.UUID, status string, processed, added, updated, errorCount int, errs []string, details string) error
}

// ProgressSink receives progress updates after every batch. The web layer
// keeps the latest update for polling; the CLI prints them.
type ProgressSink interface {
	Update(processed, total int, running bool)
}

// discardProgress is used when the caller passes a nil sink.
type discardProgress struct{}

func (discardProgress) Update(int, int, bool) {}

// Config holds importer tuning.
type Config struct {
	// BatchSize is rows per multi-row insert (default: 500).
	BatchSize int

	// Resume continues a previously interrupted load of the same file from
	// its persisted checkpoint instead of clearing and starting over.
	Resume bool
}

// Result is the final outcome of an import.
type Result struct {
	RunID      uuid.UUID `json:"runId"`
	TotalRows  int       `json:"totalRows"`
	Imported   int       `json:"imported"`
	Skipped    int       `json:"skipped"`
	ErrorCount int       `json:"errorCount"`
	Errors     []string  `json:"errors"`
}

// Importer loads parsed dataset files into the store.
type Importer struct {
	store Store
	cfg   Config
}

// New builds an Importer.
func New(st Store, cfg Config) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Importer{store: st, cfg: cfg}
}

// ImportFile reads and imports the file at path. See Import.
func (im *Importer) ImportFile(ctx context.Context, path string, sink ProgressSink) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return im.Import(ctx, parsed, sink)
}

// Import creates the run log and loads a parsed file.
func (im *Importer) Import(ctx context.Context, parsed *ParsedFile, sink ProgressSink) (*Result, error) {
	runID, err := im.NewRun(ctx)
	if err != nil {
		return nil, err
	}
	return im.Run(ctx, runID, parsed, sink)
}

// NewRun creates the run log for a bulk import in status=running, so
// callers that execute in the background can hand the ID out first.
func (im *Importer) NewRun(ctx context.Context) (uuid.UUID, error) {
	runID, err := im.store.CreateRun(ctx, store.RunTypeBulkImport)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start bulk import: %w", err)
	}
	return runID, nil
}

// Run loads a parsed file under an existing run. Rows are processed in
// fixed-size batches, each as one multi-row insert; a failed batch falls
// back to per-row inserts so well-formed rows still commit. A checkpoint
// advances transactionally with every batch, and Resume picks up from it
// after an interruption. The sink is marked running=false on completion or
// fatal error.
func (im *Importer) Run(ctx context.Context, runID uuid.UUID, parsed *ParsedFile, sink ProgressSink) (*Result, error) {
	if sink == nil {
		sink = discardProgress{}
	}

	logger := slog.With("run_id", runID, "rows", len(parsed.Rows))
	res := &Result{RunID: runID, TotalRows: len(parsed.Rows), Errors: []string{}}

	startRow, err := im.prepare(ctx, parsed, logger)
	if err != nil {
		sink.Update(0, res.TotalRows, false)
		im.finalize(ctx, runID, store.RunStatusFailed, 0, res, err.Error())
		return nil, &FatalError{RunID: runID, Err: err}
	}

	logger.Info("bulk import started",
		"batch_size", im.cfg.BatchSize,
		"start_row", startRow,
		"resume", im.cfg.Resume,
	)
	res.Skipped = startRow
	sink.Update(startRow, res.TotalRows, true)

	for start := startRow; start < len(parsed.Rows); start += im.cfg.BatchSize {
		end := start + im.cfg.BatchSize
		if end > len(parsed.Rows) {
			end = len(parsed.Rows)
		}

		if err := ctx.Err(); err != nil {
			sink.Update(start, res.TotalRows, false)
			im.finalize(ctx, runID, store.RunStatusFailed, start, res, "import interrupted: "+err.Error())
			return nil, &FatalError{RunID: runID, Err: err}
		}

		batch := im.transformBatch(parsed.Rows[start:end], res)

		if err := im.store.ApplyImportBatch(ctx, batch, parsed.Fingerprint, runID, end); err != nil {
			logger.Warn("batch insert failed, falling back to per-row inserts",
				"batch_start", start,
				"error", err,
			)
			im.fallbackRows(ctx, batch, parsed.Fingerprint, runID, end, res, logger)
		} else {
			res.Imported += len(batch)
		}

		sink.Update(end, res.TotalRows, true)
	}

	sink.Update(res.TotalRows, res.TotalRows, false)
	im.finalize(ctx, runID, store.RunStatusCompleted, res.TotalRows, res, fmt.Sprintf("imported %d of %d rows", res.Imported, res.TotalRows))
	logger.Info("bulk import completed", "imported", res.Imported, "errors", res.ErrorCount)
	return res, nil
}

// prepare either clears the destination (fresh full-replace load) or loads
// the checkpoint for a resumed one. Returns the row index to start from.
func (im *Importer) prepare(ctx context.Context, parsed *ParsedFile, logger *slog.Logger) (int, error) {
	if im.cfg.Resume {
		lastRow, ok, err := im.store.LoadImportCheckpoint(ctx, parsed.Fingerprint)
		if err != nil {
			return 0, err
		}
		if ok {
			logger.Info("resuming from checkpoint", "last_row", lastRow)
			return lastRow, nil
		}
		logger.Info("no checkpoint for file, starting fresh")
	}
	if err := im.store.ClearMinerals(ctx); err != nil {
		return 0, err
	}
	return 0, nil
}

// transformBatch converts raw rows, recording per-row transform failures
// without aborting the batch.
func (im *Importer) transformBatch(rows []Row, res *Result) []*mineral.Record {
	batch := make([]*mineral.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := mineral.FromCSV(row.Fields)
		if err != nil {
			im.recordError(res, fmt.Sprintf("line %d: %v", row.Line, err))
			continue
		}
		batch = append(batch, rec)
	}
	return batch
}

// fallbackRows inserts a failed batch one row at a time so only the
// offending rows are lost, then checkpoints the batch.
func (im *Importer) fallbackRows(ctx context.Context, batch []*mineral.Record, fingerprint string, runID uuid.UUID, lastRowIndex int, res *Result, logger *slog.Logger) {
	for _, rec := range batch {
		if err := im.store.InsertImportRow(ctx, rec); err != nil {
			im.recordError(res, fmt.Sprintf("row %q (id %d): %v", rec.Name, rec.ID, err))
			continue
		}
		res.Imported++
	}
	if err := im.store.SaveImportCheckpoint(ctx, fingerprint, runID, lastRowIndex); err != nil {
		logger.Error("failed to checkpoint after fallback", "error", err)
	}
}

func (im *Importer) recordError(res *Result, msg string) {
	res.ErrorCount++
	if len(res.Errors) < store.MaxRunErrors {
		res.Errors = append(res.Errors, msg)
	}
}

// finalize closes the run log; bookkeeping failures are logged, not
// propagated. The write is detached from the run context's cancellation so
// a timed-out run can still record its failure.
func (im *Importer) finalize(ctx context.Context, runID uuid.UUID, status string, processed int, res *Result, details string) {
	ctx = context.WithoutCancel(ctx)
	err := im.store.FinalizeRun(ctx, runID, status,
		processed, res.Imported, 0, res.ErrorCount, res.Errors, details)
	if err != nil {
		slog.Error("failed to finalize import run log", "run_id", runID, "error", err)
	}
}

// FatalError reports a bulk import that could not complete. The run log
// has been finalized as failed when this is returned.
type FatalError struct {
	RunID uuid.UUID
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("bulk import run %s failed: %v", e.RunID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
