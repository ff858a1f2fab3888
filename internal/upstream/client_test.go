package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient points a client at srv with retries that don't sleep.
func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:     srv.URL,
		Token:       "test-token",
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestNewClient_RequiresConfig(t *testing.T) {
	if _, err := NewClient(Config{Token: "t"}); err == nil {
		t.Error("NewClient() without BaseURL expected error")
	}
	if _, err := NewClient(Config{BaseURL: "https://example.com"}); err == nil {
		t.Error("NewClient() without Token expected error")
	}
}

func TestDo_SendsAuthAndCaches(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Token test-token" {
			t.Errorf("Authorization = %q, want %q", got, "Token test-token")
		}
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	resp, err := c.Do(ctx, http.MethodGet, "geomaterials/1", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Cached {
		t.Error("first call Cached = true, want false")
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}

	resp, err = c.Do(ctx, http.MethodGet, "geomaterials/1", nil)
	if err != nil {
		t.Fatalf("Do() second call error = %v", err)
	}
	if !resp.Cached {
		t.Error("second call Cached = false, want true")
	}
	if string(resp.Body) != `{"id":1}` {
		t.Errorf("cached Body = %s, want original body", resp.Body)
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1 (second served from cache)", calls.Load())
	}
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Do(context.Background(), http.MethodGet, "geomaterials", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200 after retries", resp.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("upstream calls = %d, want 3", calls.Load())
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Do(context.Background(), http.MethodGet, "geomaterials", nil)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("Do() error = %v, want ErrUpstreamUnavailable", err)
	}
	if calls.Load() != 3 {
		t.Errorf("upstream calls = %d, want MaxAttempts (3)", calls.Load())
	}
}

func TestDo_ClientErrorsNeverRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Do(context.Background(), http.MethodGet, "geomaterials/99999999", nil)

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("Do() error = %v, want *UpstreamError", err)
	}
	if ue.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", ue.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1 (4xx must not retry)", calls.Load())
	}
}

func TestDo_RejectsNonGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached upstream")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Do(context.Background(), http.MethodPost, "geomaterials", nil)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Do() error = %v, want *ValidationError", err)
	}
}

func TestDo_PathValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	for _, path := range []string{"secrets", "../etc/passwd", "", "//", "admin/users"} {
		_, err := c.Do(ctx, http.MethodGet, path, nil)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Do(%q) error = %v, want *ValidationError", path, err)
		}
	}

	// Traversal segments are stripped, not honored.
	if _, err := c.Do(ctx, http.MethodGet, "geomaterials/../geomaterials/5", nil); err != nil {
		t.Errorf("Do() with dot segments inside allowlisted path error = %v", err)
	}
}

func TestGetPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			w.Write([]byte(`{"results":[{"id":1,"name":"Quartz"}],"next":"https://x/geomaterials?page=2"}`))
			return
		}
		w.Write([]byte(`{"results":[{"id":2,"name":"Calcite"}],"next":null}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	page, err := c.GetPage(ctx, "geomaterials", url.Values{"page": {"1"}})
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if len(page.Results) != 1 || page.Results[0]["name"] != "Quartz" {
		t.Errorf("Results = %v, want one Quartz record", page.Results)
	}
	if page.Next == nil {
		t.Error("Next = nil, want non-nil on first page")
	}

	page, err = c.GetPage(ctx, "geomaterials", url.Values{"page": {"2"}})
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if page.Next != nil {
		t.Errorf("Next = %v, want nil on last page", *page.Next)
	}
}
