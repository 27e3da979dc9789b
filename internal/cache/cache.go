// Package cache memoizes finalized search responses by request fingerprint.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/paperverse/research-query-service/internal/domain"
)

// DefaultSize is the default number of cached responses.
const DefaultSize = 1024

// DefaultTTL is the default entry lifetime.
const DefaultTTL = 24 * time.Hour

type entry struct {
	result    domain.SearchResult
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.createdAt.Add(e.ttl))
}

// Cache is a bounded, TTL-aware response cache. Entries carry their own TTL
// and are evicted lazily on lookup; the LRU bound caps total memory. The
// underlying LRU serializes access, so Cache is safe for concurrent use.
//
// A nil or zero-size Cache behaves as a permanent miss, which is the normal
// path when caching is disabled.
type Cache struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

// New creates a cache holding at most size entries. A size <= 0 returns a
// disabled cache that always misses.
func New(size int) *Cache {
	if size <= 0 {
		return &Cache{now: time.Now}
	}
	// lru.New only fails for non-positive sizes, which are handled above.
	l, _ := lru.New[string, entry](size)
	return &Cache{lru: l, now: time.Now}
}

// Get returns the cached result for the fingerprint, or ErrCacheMiss when the
// entry is absent, expired, or caching is disabled. Expired entries are
// removed on the way out.
func (c *Cache) Get(fingerprint string) (domain.SearchResult, error) {
	if c == nil || c.lru == nil {
		return domain.SearchResult{}, domain.ErrCacheMiss
	}
	e, ok := c.lru.Get(fingerprint)
	if !ok {
		return domain.SearchResult{}, domain.ErrCacheMiss
	}
	if e.expired(c.now()) {
		c.lru.Remove(fingerprint)
		return domain.SearchResult{}, domain.ErrCacheMiss
	}
	return e.result, nil
}

// Put stores a result under the fingerprint with the given TTL. A ttl <= 0
// uses DefaultTTL. Put on a disabled cache is a no-op.
func (c *Cache) Put(fingerprint string, result domain.SearchResult, ttl time.Duration) {
	if c == nil || c.lru == nil {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.lru.Add(fingerprint, entry{result: result, createdAt: c.now(), ttl: ttl})
}

// Sweep removes all expired entries. Expiry is otherwise lazy; Sweep exists
// for callers that want to bound memory between lookups.
func (c *Cache) Sweep() int {
	if c == nil || c.lru == nil {
		return 0
	}
	removed := 0
	now := c.now()
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.expired(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries, counting not-yet-swept expired ones.
func (c *Cache) Len() int {
	if c == nil || c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Fingerprint derives the deterministic cache key for a structured request:
// a SHA-256 digest over the base URL and the sorted, URL-encoded parameter
// set, so identical logical requests always collide.
func Fingerprint(req domain.StructuredRequest) string {
	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(req.BaseURL)
	sb.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(req.Params[k]))
	}

	digest := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(digest[:])
}
