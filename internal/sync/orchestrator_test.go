package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lithodex/lithodex/internal/mineral"
	"github.com/lithodex/lithodex/internal/store"
	"github.com/lithodex/lithodex/internal/upstream"
)

// fakeStore is an in-memory Store for orchestrator tests.
type fakeStore struct {
	minerals map[int64]*mineral.Record
	runs     map[uuid.UUID]*fakeRun

	// watermarkErr makes MaxSourceUpdateTime fail.
	watermarkErr error
	// ctxAwareFinalize makes FinalizeRun refuse a dead context, the way a
	// real database write would.
	ctxAwareFinalize bool
}

type fakeRun struct {
	runType    string
	status     string
	processed  int
	added      int
	updated    int
	errorCount int
	errs       []string
	details    string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		minerals: make(map[int64]*mineral.Record),
		runs:     make(map[uuid.UUID]*fakeRun),
	}
}

func (f *fakeStore) GetMineral(ctx context.Context, id int64) (*mineral.Record, bool, error) {
	rec, ok := f.minerals[id]
	return rec, ok, nil
}

func (f *fakeStore) InsertMineral(ctx context.Context, rec *mineral.Record) error {
	f.minerals[rec.ID] = rec
	return nil
}

func (f *fakeStore) UpdateMineral(ctx context.Context, rec *mineral.Record) error {
	if _, ok := f.minerals[rec.ID]; !ok {
		return fmt.Errorf("mineral %d not found", rec.ID)
	}
	f.minerals[rec.ID] = rec
	return nil
}

func (f *fakeStore) MaxSourceUpdateTime(ctx context.Context) (time.Time, bool, error) {
	if f.watermarkErr != nil {
		return time.Time{}, false, f.watermarkErr
	}
	var max time.Time
	found := false
	for _, rec := range f.minerals {
		if rec.SourceUpdateTime != nil && rec.SourceUpdateTime.After(max) {
			max = *rec.SourceUpdateTime
			found = true
		}
	}
	return max, found, nil
}

func (f *fakeStore) CreateRun(ctx context.Context, runType string) (uuid.UUID, error) {
	id := uuid.New()
	f.runs[id] = &fakeRun{runType: runType, status: store.RunStatusRunning}
	return id, nil
}

func (f *fakeStore) FinalizeRun(ctx context.Context, id uuid.UUID, status string, processed, added, updated, errorCount int, errs []string, details string) error {
	if f.ctxAwareFinalize {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	run, ok := f.runs[id]
	if !ok || run.status != store.RunStatusRunning {
		return fmt.Errorf("run %s is not running", id)
	}
	run.status = status
	run.processed = processed
	run.added = added
	run.updated = updated
	run.errorCount = errorCount
	run.errs = errs
	run.details = details
	return nil
}

// fakeFetcher serves canned pages keyed by page number and records the
// params it saw.
type fakeFetcher struct {
	pages      map[int][]map[string]any
	records    map[int64]map[string]any
	lastParams url.Values
	pageErr    error
	pageCalls  int
}

func (f *fakeFetcher) GetPage(ctx context.Context, path string, params url.Values) (*upstream.Page, error) {
	f.pageCalls++
	f.lastParams = params
	if f.pageErr != nil {
		return nil, f.pageErr
	}

	page, _ := strconv.Atoi(params.Get("page"))
	results := f.pages[page]
	var next *string
	if _, ok := f.pages[page+1]; ok {
		s := "next"
		next = &s
	}
	return &upstream.Page{Results: results, Next: next}, nil
}

func (f *fakeFetcher) Do(ctx context.Context, method, path string, params url.Values) (*upstream.Response, error) {
	var id int64
	if _, err := fmt.Sscanf(path, "geomaterials/%d", &id); err != nil {
		return nil, &upstream.UpstreamError{Status: http.StatusNotFound}
	}
	raw, ok := f.records[id]
	if !ok {
		return nil, &upstream.UpstreamError{Status: http.StatusNotFound}
	}
	body, _ := json.Marshal(raw)
	return &upstream.Response{Status: http.StatusOK, Body: body}, nil
}

// apiRecord builds a raw upstream record.
func apiRecord(id int64, name, updttime string) map[string]any {
	raw := map[string]any{"id": float64(id), "name": name, "ima_formula": "SiO2"}
	if updttime != "" {
		raw["updttime"] = updttime
	}
	return raw
}

func pagesOf(perPage, total int) map[int][]map[string]any {
	pages := make(map[int][]map[string]any)
	page := 1
	for i := 0; i < total; i++ {
		id := int64(i + 1)
		pages[page] = append(pages[page], apiRecord(id, fmt.Sprintf("Mineral%d", id), "2024-01-01 00:00:00"))
		if len(pages[page]) == perPage {
			page++
		}
	}
	return pages
}

func TestFullSync_PaginatesAndInserts(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{pages: pagesOf(100, 300)}
	o := New(st, fetcher, Config{PageSize: 100})

	sum, err := o.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync() error = %v", err)
	}

	if sum.Processed != 300 {
		t.Errorf("Processed = %d, want 300", sum.Processed)
	}
	if sum.Added != 300 {
		t.Errorf("Added = %d, want 300", sum.Added)
	}
	if sum.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", sum.ErrorCount)
	}
	if len(st.minerals) != 300 {
		t.Errorf("stored minerals = %d, want 300", len(st.minerals))
	}

	run := st.runs[sum.RunID]
	if run == nil {
		t.Fatal("run log not created")
	}
	if run.runType != store.RunTypeFullSync {
		t.Errorf("runType = %q, want %q", run.runType, store.RunTypeFullSync)
	}
	if run.status != store.RunStatusCompleted {
		t.Errorf("status = %q, want completed", run.status)
	}
	if run.processed != 300 || run.added != 300 {
		t.Errorf("run log processed/added = %d/%d, want 300/300", run.processed, run.added)
	}
}

func TestFullSync_RerunIsNoOp(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{pages: pagesOf(100, 50)}
	o := New(st, fetcher, Config{})

	if _, err := o.FullSync(context.Background()); err != nil {
		t.Fatalf("first FullSync() error = %v", err)
	}

	sum, err := o.FullSync(context.Background())
	if err != nil {
		t.Fatalf("second FullSync() error = %v", err)
	}
	if sum.Added != 0 {
		t.Errorf("Added = %d, want 0 on rerun", sum.Added)
	}
	if sum.Updated != 0 {
		t.Errorf("Updated = %d, want 0 on rerun (timestamps unchanged)", sum.Updated)
	}
	if sum.Skipped != 50 {
		t.Errorf("Skipped = %d, want 50", sum.Skipped)
	}
}

func TestFullSync_NewerTimestampUpdates(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{pages: map[int][]map[string]any{
		1: {apiRecord(1, "Quartz", "2024-01-01 00:00:00")},
	}}
	o := New(st, fetcher, Config{})

	if _, err := o.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	fetcher.pages[1] = []map[string]any{apiRecord(1, "Quartz (revised)", "2024-06-01 00:00:00")}
	sum, err := o.FullSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if sum.Updated != 1 {
		t.Errorf("Updated = %d, want 1", sum.Updated)
	}
	if st.minerals[1].Name != "Quartz (revised)" {
		t.Errorf("stored name = %q, want revised record", st.minerals[1].Name)
	}
}

func TestFullSync_RecordErrorsDoNotAbort(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{pages: map[int][]map[string]any{
		1: {
			apiRecord(1, "Quartz", ""),
			{"id": float64(2)}, // no name: transform fails
			apiRecord(3, "Calcite", ""),
		},
	}}
	o := New(st, fetcher, Config{})

	sum, err := o.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync() error = %v", err)
	}

	if sum.Processed != 3 {
		t.Errorf("Processed = %d, want 3", sum.Processed)
	}
	if sum.Added != 2 {
		t.Errorf("Added = %d, want 2", sum.Added)
	}
	if sum.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", sum.ErrorCount)
	}
	if len(sum.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry", sum.Errors)
	}
	if st.runs[sum.RunID].status != store.RunStatusCompleted {
		t.Errorf("run status = %q, want completed despite record errors", st.runs[sum.RunID].status)
	}
}

func TestFullSync_PageErrorThresholdAborts(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{pageErr: errors.New("upstream down")}
	o := New(st, fetcher, Config{PageErrorThreshold: 2})

	_, err := o.FullSync(context.Background())

	var abort *RunAbortError
	if !errors.As(err, &abort) {
		t.Fatalf("FullSync() error = %v, want *RunAbortError", err)
	}
	if fetcher.pageCalls != 3 {
		t.Errorf("page fetches = %d, want threshold+1 (3)", fetcher.pageCalls)
	}
	if st.runs[abort.RunID].status != store.RunStatusFailed {
		t.Errorf("run status = %q, want failed", st.runs[abort.RunID].status)
	}
}

func TestFullSync_AbortFinalizesAfterTimeout(t *testing.T) {
	st := newFakeStore()
	st.ctxAwareFinalize = true
	fetcher := &fakeFetcher{pageErr: errors.New("context deadline exceeded")}
	o := New(st, fetcher, Config{PageErrorThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.FullSync(ctx)

	var abort *RunAbortError
	if !errors.As(err, &abort) {
		t.Fatalf("FullSync() error = %v, want *RunAbortError", err)
	}
	if st.runs[abort.RunID].status != store.RunStatusFailed {
		t.Errorf("run status = %q, want failed even with a dead run context", st.runs[abort.RunID].status)
	}
}

func TestIncrementalSync_WatermarkParam(t *testing.T) {
	st := newFakeStore()
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	st.minerals[1] = &mineral.Record{ID: 1, Name: "Quartz", SourceUpdateTime: &ts}

	fetcher := &fakeFetcher{pages: map[int][]map[string]any{1: {}}}
	o := New(st, fetcher, Config{})

	sum, err := o.IncrementalSync(context.Background())
	if err != nil {
		t.Fatalf("IncrementalSync() error = %v", err)
	}

	if got := fetcher.lastParams.Get("updated_since"); got != "2024-05-01T08:00:00Z" {
		t.Errorf("updated_since = %q, want %q", got, "2024-05-01T08:00:00Z")
	}
	if sum.Processed != 0 {
		t.Errorf("Processed = %d, want 0 for empty page", sum.Processed)
	}
	if st.runs[sum.RunID].status != store.RunStatusCompleted {
		t.Errorf("run status = %q, want completed", st.runs[sum.RunID].status)
	}
}

func TestIncrementalSync_EmptyStoreUsesEpoch(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{pages: map[int][]map[string]any{1: {}}}
	o := New(st, fetcher, Config{})

	if _, err := o.IncrementalSync(context.Background()); err != nil {
		t.Fatalf("IncrementalSync() error = %v", err)
	}
	if got := fetcher.lastParams.Get("updated_since"); got != "1970-01-01T00:00:00Z" {
		t.Errorf("updated_since = %q, want epoch", got)
	}
}

func TestIncrementalSync_WatermarkErrorFinalizesFailed(t *testing.T) {
	st := newFakeStore()
	st.watermarkErr = errors.New("relation minerals does not exist")
	o := New(st, &fakeFetcher{}, Config{})

	_, err := o.IncrementalSync(context.Background())

	var abort *RunAbortError
	if !errors.As(err, &abort) {
		t.Fatalf("IncrementalSync() error = %v, want *RunAbortError", err)
	}
	run := st.runs[abort.RunID]
	if run == nil {
		t.Fatal("run log not created")
	}
	if run.status != store.RunStatusFailed {
		t.Errorf("run status = %q, want failed (no run may stay running)", run.status)
	}
}

func TestResyncMineral(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{records: map[int64]map[string]any{
		7: apiRecord(7, "Topaz", "2024-01-01 00:00:00"),
	}}
	o := New(st, fetcher, Config{})
	ctx := context.Background()

	result, err := o.ResyncMineral(ctx, 7)
	if err != nil {
		t.Fatalf("ResyncMineral() error = %v", err)
	}
	if result != ResyncAdded {
		t.Errorf("result = %q, want added", result)
	}
	if st.minerals[7] == nil {
		t.Fatal("mineral 7 not stored")
	}

	// Same payload again: stored copy is current.
	result, err = o.ResyncMineral(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if result != ResyncSkipped {
		t.Errorf("result = %q, want skipped", result)
	}

	fetcher.records[7] = apiRecord(7, "Topaz", "2024-06-01 00:00:00")
	result, err = o.ResyncMineral(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if result != ResyncUpdated {
		t.Errorf("result = %q, want updated", result)
	}
}

func TestResyncMineral_NotFound(t *testing.T) {
	o := New(newFakeStore(), &fakeFetcher{}, Config{})

	result, err := o.ResyncMineral(context.Background(), 404404)
	if err != nil {
		t.Fatalf("ResyncMineral() error = %v", err)
	}
	if result != ResyncNotFound {
		t.Errorf("result = %q, want not_found", result)
	}
}

func TestSupersedes(t *testing.T) {
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := old.Add(time.Hour)

	cases := []struct {
		name     string
		incoming *time.Time
		existing *time.Time
		want     bool
	}{
		{"incoming nil", nil, &old, false},
		{"both nil", nil, nil, false},
		{"existing nil", &old, nil, true},
		{"strictly newer", &newer, &old, true},
		{"equal", &old, &old, false},
		{"older", &old, &newer, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := supersedes(
				&mineral.Record{SourceUpdateTime: tc.incoming},
				&mineral.Record{SourceUpdateTime: tc.existing},
			)
			if got != tc.want {
				t.Errorf("supersedes() = %v, want %v", got, tc.want)
			}
		})
	}
}
