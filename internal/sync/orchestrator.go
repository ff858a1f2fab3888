// Package sync implements the sync orchestrator: it paginates the upstream
// API proxy and upserts transformed records into the local store, keeping a
// run log per invocation. Record-level failures never abort a run; only a
// streak of page-level failures does.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lithodex/lithodex/internal/mineral"
	"github.com/lithodex/lithodex/internal/store"
	"github.com/lithodex/lithodex/internal/upstream"
)

// mineralsResource is the upstream list resource the orchestrator pages
// through.
const mineralsResource = "geomaterials"

// watermarkEpoch is the incremental-sync lower bound when the store holds
// no timestamped records.
var watermarkEpoch = time.Unix(0, 0).UTC()

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetMineral(ctx context.Context, id int64) (*mineral.Record, bool, error)
	InsertMineral(ctx context.Context, rec *mineral.Record) error
	UpdateMineral(ctx context.Context, rec *mineral.Record) error
	MaxSourceUpdateTime(ctx context.Context) (time.Time, bool, error)
	CreateRun(ctx context.Context, runType string) (uuid.UUID, error)
	FinalizeRun(ctx context.Context, id uuid.UUID, status string, processed, added, updated, errorCount int, errs []string, details string) error
}

// Fetcher is the upstream proxy surface the orchestrator needs.
type Fetcher interface {
	GetPage(ctx context.Context, path string, params url.Values) (*upstream.Page, error)
	Do(ctx context.Context, method, path string, params url.Values) (*upstream.Response, error)
}

// Summary describes the outcome of one sync run. Skipped records are those
// processed without a write (stored copy already current).
type Summary struct {
	RunID      uuid.UUID `json:"runId"`
	Processed  int       `json:"processed"`
	Added      int       `json:"added"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	ErrorCount int       `json:"errorCount"`
	Errors     []string  `json:"errors"`
}

// RunAbortError terminates a run: the consecutive page-error threshold was
// exceeded or an unrecoverable failure occurred. The run log has already
// been finalized as failed when this is returned.
type RunAbortError struct {
	RunID  uuid.UUID
	Reason string
	Err    error
}

func (e *RunAbortError) Error() string {
	return fmt.Sprintf("sync run %s aborted: %s: %v", e.RunID, e.Reason, e.Err)
}

func (e *RunAbortError) Unwrap() error { return e.Err }

// ResyncResult is the outcome of a single-record resync.
type ResyncResult string

const (
	ResyncAdded    ResyncResult = "added"
	ResyncUpdated  ResyncResult = "updated"
	ResyncSkipped  ResyncResult = "skipped"
	ResyncNotFound ResyncResult = "not_found"
)

// Config holds orchestrator tuning.
type Config struct {
	// PageSize is the records-per-page parameter sent upstream
	// (default: 100).
	PageSize int

	// PageErrorThreshold is how many consecutive page fetch failures are
	// tolerated before the run aborts (default: 10).
	PageErrorThreshold int
}

// Orchestrator drives full and incremental synchronization runs.
type Orchestrator struct {
	store   Store
	fetcher Fetcher
	cfg     Config
}

// New builds an Orchestrator. The fetcher is injected; the orchestrator
// never reaches for a global client.
func New(st Store, fetcher Fetcher, cfg Config) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.PageErrorThreshold <= 0 {
		cfg.PageErrorThreshold = 10
	}
	return &Orchestrator{store: st, fetcher: fetcher, cfg: cfg}
}

// FullSync pulls every upstream record, page by page, and upserts each one.
func (o *Orchestrator) FullSync(ctx context.Context) (*Summary, error) {
	runID, err := o.NewRun(ctx, store.RunTypeFullSync)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, runID, store.RunTypeFullSync)
}

// IncrementalSync pulls records changed since the stored watermark (the
// newest known source update time, or the epoch for an empty store).
func (o *Orchestrator) IncrementalSync(ctx context.Context) (*Summary, error) {
	runID, err := o.NewRun(ctx, store.RunTypeIncrementalSync)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, runID, store.RunTypeIncrementalSync)
}

// NewRun creates the run log for a sync in status=running and returns its
// ID, so callers that execute in the background can hand the ID out first.
func (o *Orchestrator) NewRun(ctx context.Context, runType string) (uuid.UUID, error) {
	runID, err := o.store.CreateRun(ctx, runType)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start %s: %w", runType, err)
	}
	return runID, nil
}

// Run executes a previously created run. An incremental run computes its
// watermark here, just before the first page request.
func (o *Orchestrator) Run(ctx context.Context, runID uuid.UUID, runType string) (*Summary, error) {
	var extraParams url.Values
	if runType == store.RunTypeIncrementalSync {
		watermark, ok, err := o.store.MaxSourceUpdateTime(ctx)
		if err != nil {
			o.finalize(ctx, runID, store.RunStatusFailed, &Summary{RunID: runID, Errors: []string{}},
				fmt.Sprintf("compute watermark: %v", err))
			return nil, &RunAbortError{RunID: runID, Reason: "compute watermark", Err: err}
		}
		if !ok {
			watermark = watermarkEpoch
		}
		extraParams = url.Values{"updated_since": {watermark.UTC().Format(time.RFC3339)}}
	}
	return o.run(ctx, runID, runType, extraParams)
}

// run executes one paginated sync. extraParams carries the incremental
// watermark filter; nil for a full sync.
func (o *Orchestrator) run(ctx context.Context, runID uuid.UUID, runType string, extraParams url.Values) (*Summary, error) {
	logger := slog.With("run_id", runID, "run_type", runType)
	logger.Info("sync run started", "page_size", o.cfg.PageSize)

	sum := &Summary{RunID: runID, Errors: []string{}}
	page := 1
	consecutivePageErrors := 0

	for {
		params := url.Values{
			"page":      {strconv.Itoa(page)},
			"page_size": {strconv.Itoa(o.cfg.PageSize)},
		}
		for k, vs := range extraParams {
			params[k] = vs
		}

		result, err := o.fetcher.GetPage(ctx, mineralsResource, params)
		if err != nil {
			consecutivePageErrors++
			logger.Warn("page fetch failed",
				"page", page,
				"consecutive_errors", consecutivePageErrors,
				"error", err,
			)
			if consecutivePageErrors > o.cfg.PageErrorThreshold {
				o.finalize(ctx, runID, store.RunStatusFailed, sum,
					fmt.Sprintf("aborted on page %d: %v", page, err))
				return nil, &RunAbortError{RunID: runID, Reason: "page error threshold exceeded", Err: err}
			}
			continue
		}
		consecutivePageErrors = 0

		for _, raw := range result.Results {
			sum.Processed++
			if err := o.upsert(ctx, raw, sum); err != nil {
				sum.ErrorCount++
				if len(sum.Errors) < store.MaxRunErrors {
					sum.Errors = append(sum.Errors, err.Error())
				}
				logger.Warn("record failed", "error", err)
			}
		}

		logger.Debug("page processed", "page", page, "records", len(result.Results))

		if result.Next == nil {
			break
		}
		page++
	}

	o.finalize(ctx, runID, store.RunStatusCompleted, sum, "")
	logger.Info("sync run completed",
		"processed", sum.Processed,
		"added", sum.Added,
		"updated", sum.Updated,
		"errors", sum.ErrorCount,
	)
	return sum, nil
}

// upsert applies the merge policy for one raw upstream record. Errors
// returned here are record-level: counted and logged by the caller, never
// fatal to the run.
func (o *Orchestrator) upsert(ctx context.Context, raw map[string]any, sum *Summary) error {
	rec, err := mineral.FromAPI(raw)
	if err != nil {
		return fmt.Errorf("transform record: %w", err)
	}

	existing, found, err := o.store.GetMineral(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("lookup mineral %d: %w", rec.ID, err)
	}

	if !found {
		if err := o.store.InsertMineral(ctx, rec); err != nil {
			return err
		}
		sum.Added++
		return nil
	}

	if !supersedes(rec, existing) {
		sum.Skipped++
		return nil
	}
	if err := o.store.UpdateMineral(ctx, rec); err != nil {
		return err
	}
	sum.Updated++
	return nil
}

// supersedes reports whether the incoming record should replace the stored
// one: its source timestamp is strictly newer, or the stored record lacks a
// usable timestamp while the incoming one has one. Equal or older
// timestamps leave the stored record untouched, which is what makes
// re-running a sync against unchanged upstream data a no-op.
func supersedes(incoming, existing *mineral.Record) bool {
	if incoming.SourceUpdateTime == nil {
		return false
	}
	if existing.SourceUpdateTime == nil {
		return true
	}
	return incoming.SourceUpdateTime.After(*existing.SourceUpdateTime)
}

// ResyncMineral fetches one record by ID and upserts it outside any run.
func (o *Orchestrator) ResyncMineral(ctx context.Context, id int64) (ResyncResult, error) {
	resp, err := o.fetcher.Do(ctx, http.MethodGet, fmt.Sprintf("%s/%d", mineralsResource, id), nil)
	if err != nil {
		var ue *upstream.UpstreamError
		if errors.As(err, &ue) && ue.Status == http.StatusNotFound {
			return ResyncNotFound, nil
		}
		return "", fmt.Errorf("fetch mineral %d: %w", id, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return "", fmt.Errorf("decode mineral %d: %w", id, err)
	}

	var sum Summary
	if err := o.upsert(ctx, raw, &sum); err != nil {
		return "", err
	}
	switch {
	case sum.Added > 0:
		return ResyncAdded, nil
	case sum.Updated > 0:
		return ResyncUpdated, nil
	default:
		return ResyncSkipped, nil
	}
}

// finalize closes the run log, logging rather than propagating bookkeeping
// failures so they cannot mask the run outcome. The run's own context may
// already be dead when a timeout is what aborted the run, so the write is
// detached from its cancellation.
func (o *Orchestrator) finalize(ctx context.Context, runID uuid.UUID, status string, sum *Summary, details string) {
	ctx = context.WithoutCancel(ctx)
	err := o.store.FinalizeRun(ctx, runID, status,
		sum.Processed, sum.Added, sum.Updated, sum.ErrorCount, sum.Errors, details)
	if err != nil {
		slog.Error("failed to finalize run log", "run_id", runID, "error", err)
	}
}
