package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lithodex/lithodex/internal/config"
	"github.com/lithodex/lithodex/internal/upstream"
)

// newTestServer builds a Server with a real upstream client pointed at
// backend. Database-backed routes are not exercised here.
func newTestServer(t *testing.T, cfg *config.Config, backend *httptest.Server) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = time.Minute
	}
	proxy, err := upstream.NewClient(upstream.Config{BaseURL: backend.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return NewServer(cfg, nil, nil, nil, proxy)
}

func TestCrystalSystemRoute(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()
	srv := newTestServer(t, nil, backend)

	req := httptest.NewRequest(http.MethodGet, "/api/crystal-systems/7", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Name     string   `json:"name"`
		Examples []string `json:"examples"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Name != "Trigonal" {
		t.Errorf("name = %q, want Trigonal", body.Name)
	}
	if len(body.Examples) == 0 {
		t.Error("examples empty")
	}
}

func TestCrystalSystemRoute_BadID(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()
	srv := newTestServer(t, nil, backend)

	req := httptest.NewRequest(http.MethodGet, "/api/crystal-systems/abc", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProxyRoute_CacheHeader(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer backend.Close()
	srv := newTestServer(t, nil, backend)

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/geomaterials?page=1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/proxy/geomaterials?page=1", nil))
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second request X-Cache = %q, want HIT", got)
	}
}

func TestProxyRoute_RejectsUnlistedResource(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached upstream")
	}))
	defer backend.Close()
	srv := newTestServer(t, nil, backend)

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/internal-admin", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()

	cfg := &config.Config{}
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret-key"}
	srv := newTestServer(t, cfg, backend)

	req := httptest.NewRequest(http.MethodGet, "/api/crystal-systems/1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/crystal-systems/1", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key: status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/crystal-systems/1", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()
	srv := newTestServer(t, nil, backend)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/crystal-systems/1", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestAdminReset_RequiresConfirm(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()
	srv := newTestServer(t, nil, backend)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/reset", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without confirm=true", rec.Code)
	}
}

func TestProgressRegistry(t *testing.T) {
	reg := newProgressRegistry()
	runID := uuid.New()
	sink := reg.sink(runID)

	snap, ok := reg.get(runID)
	if !ok || !snap.Running {
		t.Fatalf("initial snapshot = (%+v, %v), want running", snap, ok)
	}

	sink.Update(50, 100, true)
	snap, _ = reg.get(runID)
	if snap.Processed != 50 || snap.Total != 100 || !snap.Running {
		t.Errorf("snapshot = %+v, want 50/100 running", snap)
	}

	sink.Update(100, 100, false)
	snap, _ = reg.get(runID)
	if snap.Running {
		t.Error("snapshot still running after final update")
	}

	if _, ok := reg.get(uuid.New()); ok {
		t.Error("get() for unknown run = hit, want miss")
	}
}
