// Package cache is the CDN edge's object cache: a byte-budgeted LRU keyed
// on (path, Vary-projected headers), with single-flight origin fetch and
// PathMeta tracking which request headers matter per path. Eviction uses
// hashicorp/golang-lru/v2; golang.org/x/sync/singleflight collapses
// concurrent misses for the same key into one origin fetch.
package cache

import (
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/odin-emotes/eventapi/internal/metrics"
)

// HeaderValue is one (name, value) pair projected from the request by a
// path's Vary headers, in canonical lower-cased form.
type HeaderValue struct {
	Name  string
	Value string
}

// Key is the cache key: a path plus its important header values in
// canonical order.
type Key struct {
	Path    string
	Headers string // canonicalized, joined representation of important headers
}

// BuildKey canonicalizes headers (lower-cased names, sorted, joined) into a
// single comparable Key.
func BuildKey(path string, headers []HeaderValue) Key {
	sorted := make([]HeaderValue, len(headers))
	copy(sorted, headers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var sb strings.Builder
	for _, h := range sorted {
		sb.WriteString(strings.ToLower(h.Name))
		sb.WriteByte('=')
		sb.WriteString(h.Value)
		sb.WriteByte(';')
	}
	return Key{Path: path, Headers: sb.String()}
}

// Object is the cached response body plus enough metadata to serve
// conditional (304) requests and honor Age.
type Object struct {
	Bytes       []byte
	Status      int
	Headers     map[string]string
	ETag        string
	AgeDeadline int64 // unix seconds this entry should be treated as stale
}

// Size is the approximate byte footprint counted against the cache's budget.
func (o *Object) Size() int {
	n := len(o.Bytes) + len(o.ETag)
	for k, v := range o.Headers {
		n += len(k) + len(v)
	}
	return n
}

// PathMeta records which request headers matter for a path, populated from
// the origin's first Vary response.
type PathMeta struct {
	VaryHeaders []string
}

// Cache is the process-wide CDN object store: a byte-budgeted LRU plus a
// concurrent PathMeta table.
type Cache struct {
	maxBytes int64
	metrics  *metrics.Metrics

	mu        sync.Mutex
	lru       *lru.Cache[Key, *Object]
	usedBytes int64

	metaMu sync.Mutex
	meta   map[string]*PathMeta
}

// New builds a Cache bounded by maxBytes. The LRU's own count-based
// capacity is set high (effectively unbounded by count) since eviction here
// is driven by the byte budget, not entry count.
func New(maxBytes int64, m *metrics.Metrics) (*Cache, error) {
	c := &Cache{maxBytes: maxBytes, metrics: m, meta: make(map[string]*PathMeta)}
	inner, err := lru.NewWithEvict[Key, *Object](1<<20, func(_ Key, v *Object) {
		c.usedBytes -= int64(v.Size())
	})
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

// PathMeta returns the recorded Vary metadata for path, if any.
func (c *Cache) PathMeta(path string) (*PathMeta, bool) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	m, ok := c.meta[path]
	return m, ok
}

// SetPathMeta records (or replaces) path's Vary metadata.
func (c *Cache) SetPathMeta(path string, meta *PathMeta) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	c.meta[path] = meta
}

// Get looks up key, reporting a cache hit/miss metric as a side effect.
func (c *Cache) Get(key Key) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.lru.Get(key)
	if ok {
		c.metrics.CDNHits.Inc()
	} else {
		c.metrics.CDNMisses.Inc()
	}
	return obj, ok
}

// Insert stores obj under key, evicting least-recently-used entries until
// the byte budget is satisfied.
func (c *Cache) Insert(key Key, obj *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.lru.Peek(key); ok {
		c.usedBytes -= int64(existing.Size())
	}
	c.lru.Add(key, obj)
	c.usedBytes += int64(obj.Size())

	for c.usedBytes > c.maxBytes && c.lru.Len() > 0 {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
	c.metrics.CDNBytes.Set(float64(c.usedBytes))
}

// Purge removes every cache entry whose key's Path is in files. PathMeta
// is left in place: a purge evicts cached bytes, not the Vary knowledge
// needed to rebuild the key on the next request.
func (c *Cache) Purge(files []string) {
	want := make(map[string]struct{}, len(files))
	for _, f := range files {
		want[f] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if _, ok := want[key.Path]; ok {
			c.lru.Remove(key)
		}
	}
	c.metrics.CDNBytes.Set(float64(c.usedBytes))
}

// UsedBytes returns the cache's current approximate footprint.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}
