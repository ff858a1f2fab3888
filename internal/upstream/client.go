// Package upstream provides validated, cached, retried access to the
// external mineralogical API. The client is an explicitly constructed
// component owning its own cache and configuration; callers receive it by
// injection rather than through a global accessor.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// allowedPrefixes lists the upstream resource path prefixes the proxy will
// touch. Anything else is rejected before network I/O.
var allowedPrefixes = []string{
	"geomaterials",
	"minerals-ima",
	"localities",
	"countries",
}

// Config holds the settings for one upstream client.
type Config struct {
	// BaseURL is the upstream API root, e.g. "https://api.mindat.org".
	BaseURL string

	// Token is the upstream API token. Must be non-empty; its absence is a
	// configuration error surfaced before any proxy call.
	Token string

	// Timeout bounds a single HTTP request attempt (default: 20s).
	Timeout time.Duration

	// MaxAttempts is the total attempt budget per call, first try included
	// (default: 4).
	MaxAttempts int

	// RetryBaseDelay is the first backoff delay; it doubles per attempt
	// (default: 500ms).
	RetryBaseDelay time.Duration

	// CacheTTL is how long successful GET responses stay cached
	// (default: 5m).
	CacheTTL time.Duration
}

// Response is the result of one proxied call.
type Response struct {
	Status int
	Body   []byte
	Cached bool
}

// Page is the envelope shape of paginated upstream list responses. An
// absent Next pointer signals the last page.
type Page struct {
	Results []map[string]any `json:"results"`
	Next    *string          `json:"next"`
}

// Client proxies read-only requests to the upstream API with validation,
// response caching, and retry with exponential backoff.
type Client struct {
	baseURL        string
	token          string
	maxAttempts    int
	retryBaseDelay time.Duration
	cache          *responseCache
	httpClient     *http.Client

	// sleep is swappable so retry tests don't wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client from cfg, applying defaults for unset values.
// Returns an error if BaseURL or Token is missing.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, &ValidationError{Field: "base_url", Reason: "must not be empty"}
	}
	if cfg.Token == "" {
		return nil, &ValidationError{Field: "token", Reason: "upstream API token is not configured"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		maxAttempts:    cfg.MaxAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		cache:          newResponseCache(cfg.CacheTTL),
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		sleep:          sleepCtx,
	}, nil
}

// Do performs one validated upstream call. On a cache hit within TTL it
// returns immediately with Cached=true and no network I/O. 5xx responses
// and transport errors are retried with exponentially growing delay up to
// the attempt budget; 4xx responses never retry.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values) (*Response, error) {
	if method != http.MethodGet {
		return nil, &ValidationError{Field: "method", Value: method, Reason: "only GET is allowed"}
	}

	cleanPath, err := sanitizePath(path)
	if err != nil {
		return nil, err
	}

	key := cacheKey(method, cleanPath, params)
	if entry, ok := c.cache.get(key); ok {
		return &Response{Status: entry.status, Body: entry.body, Cached: true}, nil
	}

	reqURL := c.baseURL + "/" + cleanPath
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.retryBaseDelay << (attempt - 2)
			slog.Debug("retrying upstream request",
				"path", cleanPath,
				"attempt", attempt,
				"delay", delay,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, method, reqURL)
		if err == nil {
			c.cache.put(key, resp.Status, resp.Body)
			return resp, nil
		}

		var ue *UpstreamError
		if errors.As(err, &ue) && !ue.Retryable() {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUpstreamUnavailable, c.maxAttempts, lastErr)
}

// GetPage fetches one page of a paginated list resource and decodes the
// result envelope.
func (c *Client) GetPage(ctx context.Context, path string, params url.Values) (*Page, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, params)
	if err != nil {
		return nil, err
	}
	var page Page
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("decode page from %s: %w", path, err)
	}
	return &page, nil
}

// attempt issues a single HTTP request and classifies the outcome.
func (c *Client) attempt(ctx context.Context, method, reqURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &UpstreamError{Status: res.StatusCode, Body: summarize(body)}
	}

	return &Response{Status: res.StatusCode, Body: body}, nil
}

// sanitizePath strips parent-directory segments and collapses repeated
// separators, then checks the result against the resource allowlist.
func sanitizePath(path string) (string, error) {
	parts := strings.Split(path, "/")
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		clean = append(clean, p)
	}
	if len(clean) == 0 {
		return "", &ValidationError{Field: "path", Value: path, Reason: "empty after sanitization"}
	}

	joined := strings.Join(clean, "/")
	for _, prefix := range allowedPrefixes {
		if clean[0] == prefix {
			return joined, nil
		}
	}
	return "", &ValidationError{Field: "path", Value: path, Reason: "resource is not allowlisted"}
}

// summarize bounds an error body for inclusion in error messages.
func summarize(body []byte) string {
	const limit = 200
	s := string(body)
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
