package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lithodex/lithodex/internal/importer"
	"github.com/lithodex/lithodex/internal/logging"
	syncer "github.com/lithodex/lithodex/internal/sync"
	"github.com/lithodex/lithodex/internal/upstream"
)

// ErrorResponse is the JSON body for API errors. Code is machine-readable;
// Error is for humans.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError classifies err against the ingestion error taxonomy, logs
// the technical detail server-side, and writes a JSON error body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err.Error(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Code: code})
}

// classify maps an error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	var ve *upstream.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, "VALIDATION_ERROR"
	}

	var ue *upstream.UpstreamError
	if errors.As(err, &ue) {
		if ue.Status == http.StatusNotFound {
			return http.StatusNotFound, "UPSTREAM_NOT_FOUND"
		}
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	}

	if errors.Is(err, upstream.ErrUpstreamUnavailable) {
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
	}

	var abort *syncer.RunAbortError
	if errors.As(err, &abort) {
		return http.StatusInternalServerError, "RUN_ABORTED"
	}

	var fatal *importer.FatalError
	if errors.As(err, &fatal) {
		return http.StatusInternalServerError, "IMPORT_FAILED"
	}

	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondJSON writes v as a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
