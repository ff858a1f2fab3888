package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lithodex/lithodex/internal/importer"
	"github.com/lithodex/lithodex/internal/logging"
	"github.com/lithodex/lithodex/internal/mineral"
	"github.com/lithodex/lithodex/internal/store"
)

// handleHealth reports liveness, database reachability, and run slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Pool().Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "database": err.Error()})
		return
	}
	body := map[string]any{"status": "ok", "runs": s.runs.status()}
	if n, err := s.store.CountActiveMinerals(r.Context()); err == nil {
		body["minerals"] = n
	}
	respondJSON(w, http.StatusOK, body)
}

// startRunResponse is returned by the async sync/import triggers.
type startRunResponse struct {
	RunID  uuid.UUID `json:"runId"`
	Status string    `json:"status"`
}

func (s *Server) handleStartFullSync(w http.ResponseWriter, r *http.Request) {
	s.startSync(w, r, store.RunTypeFullSync)
}

func (s *Server) handleStartIncrementalSync(w http.ResponseWriter, r *http.Request) {
	s.startSync(w, r, store.RunTypeIncrementalSync)
}

// startSync creates the run log synchronously so the caller gets an ID to
// poll, then executes the run in the background under its own timeout.
func (s *Server) startSync(w http.ResponseWriter, r *http.Request, runType string) {
	if !s.runs.tryAcquire() {
		respondJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "all run slots are busy, try again later", Code: "RUN_LIMIT"})
		return
	}

	runID, err := s.orch.NewRun(r.Context(), runType)
	if err != nil {
		s.runs.release()
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "run_type", runType, "run_id", runID).Info("sync run accepted")
	go func() {
		defer s.runs.release()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Sync.Timeout)
		defer cancel()
		if _, err := s.orch.Run(ctx, runID, runType); err != nil {
			slog.Error("background sync run failed", "run_id", runID, "error", err)
		}
	}()

	respondJSON(w, http.StatusAccepted, startRunResponse{RunID: runID, Status: store.RunStatusRunning})
}

func (s *Server) handleResyncMineral(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "mineral id must be an integer", Code: "VALIDATION_ERROR"})
		return
	}

	result, err := s.orch.ResyncMineral(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if result == "not_found" {
		status = http.StatusNotFound
	}
	respondJSON(w, status, map[string]string{"result": string(result)})
}

// handleStartImport accepts a multipart dataset file, parses it up front so
// malformed files fail synchronously, then loads it in the background.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	file, _, err := r.FormFile("file")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "multipart field \"file\" is required: " + err.Error(), Code: "VALIDATION_ERROR"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	parsed, err := importer.Parse(data)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION_ERROR"})
		return
	}

	if !s.runs.tryAcquire() {
		respondJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "all run slots are busy, try again later", Code: "RUN_LIMIT"})
		return
	}

	runID, err := s.importer.NewRun(r.Context())
	if err != nil {
		s.runs.release()
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "run_id", runID, "rows", len(parsed.Rows)).Info("bulk import accepted")
	sink := s.progress.sink(runID)
	go func() {
		defer s.runs.release()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Import.Timeout)
		defer cancel()
		if _, err := s.importer.Run(ctx, runID, parsed, sink); err != nil {
			slog.Error("background import failed", "run_id", runID, "error", err)
		}
	}()

	respondJSON(w, http.StatusAccepted, startRunResponse{RunID: runID, Status: store.RunStatusRunning})
}

func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid run id", Code: "VALIDATION_ERROR"})
		return
	}
	snap, ok := s.progress.get(runID)
	if !ok {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "no import with that run id", Code: "NOT_FOUND"})
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*store.RunLog{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid run id", Code: "VALIDATION_ERROR"})
		return
	}
	run, found, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !found {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "NOT_FOUND"})
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleSearchMinerals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	recs, err := s.store.SearchMinerals(r.Context(), q.Get("name"), q.Get("element"), limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*mineral.Record{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetMineral(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "mineral id must be an integer", Code: "VALIDATION_ERROR"})
		return
	}
	rec, found, err := s.store.GetMineral(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !found {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "mineral not found", Code: "NOT_FOUND"})
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCrystalSystem(w http.ResponseWriter, r *http.Request) {
	classID, err := strconv.ParseInt(chi.URLParam(r, "classID"), 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "class id must be an integer", Code: "VALIDATION_ERROR"})
		return
	}
	respondJSON(w, http.StatusOK, mineral.CrystalSystemInfo(&classID))
}

// handleAdminReset truncates the catalog, checkpoints and run history. It
// refuses to run while ingestion runs are active so a reset cannot race a
// load in progress.
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "reset requires confirm=true", Code: "VALIDATION_ERROR"})
		return
	}
	if s.runs.activeCount() > 0 {
		respondJSON(w, http.StatusConflict, ErrorResponse{Error: "ingestion runs are active, wait for them to finish", Code: "RUN_ACTIVE"})
		return
	}

	if err := s.store.ResetAll(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}

	slog.Warn("catalog reset", "remote_addr", r.RemoteAddr)
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleProxy forwards validated read-only requests to the upstream API.
// The proxy enforces its own allowlist; this handler only shapes the
// request and relays the response.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	params := url.Values{}
	for k, vs := range r.URL.Query() {
		params[k] = vs
	}

	resp, err := s.proxy.Do(r.Context(), http.MethodGet, path, params)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
