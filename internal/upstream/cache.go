package upstream

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// cacheEntry holds one cached response body with its insertion time.
type cacheEntry struct {
	body       []byte
	status     int
	insertedAt time.Time
}

// responseCache is a process-lifetime TTL cache for successful GET
// responses. There is deliberately no singleflight: concurrent first
// requests for the same key may each hit upstream, which is harmless for
// idempotent reads.
type responseCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry

	// now is swappable for tests.
	now func() time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *responseCache) get(key string) (cacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.insertedAt) > c.ttl {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *responseCache) put(key string, status int, body []byte) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{body: body, status: status, insertedAt: c.now()}
	c.mu.Unlock()
}

// cacheKey builds a normalized key from method, path and parameters.
// Parameter keys are sorted and repeated keys keep their value order, so
// logically identical requests always map to the same entry. Keys and
// values are escaped so a value containing '&' or '=' cannot collide with
// a different parameter set.
func cacheKey(method, path string, params url.Values) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		for i, k := range keys {
			for j, v := range params[k] {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}
