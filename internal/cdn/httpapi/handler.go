// Package httpapi is the CDN edge's HTTP front door, wired over stdlib
// net/http's plain ServeMux: no route here needs more than the single
// "/*path" catch-all.
package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/odin-emotes/eventapi/internal/cdn/cache"
)

// Handler serves CDN requests out of a cache.Cache, falling back to a
// cache.Fetcher on miss.
type Handler struct {
	cache      *cache.Cache
	fetcher    *cache.Fetcher
	serverName string
	logger     zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(c *cache.Cache, f *cache.Fetcher, serverName string, logger zerolog.Logger) *Handler {
	return &Handler{cache: c, fetcher: f, serverName: serverName, logger: logger}
}

// ServeHTTP looks up the cache, falls back to the origin on miss, records
// the path's Vary metadata, inserts if cacheable, and responds.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", h.serverName)
	path := r.URL.Path
	if path == "" || path == "/" {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
		return
	}

	var important []cache.HeaderValue
	if meta, ok := h.cache.PathMeta(path); ok {
		for _, name := range meta.VaryHeaders {
			if v := r.Header.Get(name); v != "" {
				important = append(important, cache.HeaderValue{Name: name, Value: v})
			}
		}
	}
	key := cache.BuildKey(path, important)

	if obj, ok := h.cache.Get(key); ok {
		h.serveObject(w, r, obj)
		return
	}

	resp, err := h.fetcher.Fetch(r.Context(), path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("cdn: origin fetch failed")
		if r.Context().Err() != nil {
			http.Error(w, "origin timeout", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "origin fetch failed", http.StatusBadGateway)
		}
		return
	}

	varyNames, uncacheable := cache.ParseVary(resp.Headers.Get("Vary"))
	obj := objectFromResponse(resp)

	if uncacheable {
		h.serveObject(w, r, obj)
		return
	}

	h.cache.SetPathMeta(path, &cache.PathMeta{VaryHeaders: varyNames})

	important = important[:0]
	for _, name := range varyNames {
		if v := r.Header.Get(name); v != "" {
			important = append(important, cache.HeaderValue{Name: name, Value: v})
		}
	}
	key = cache.BuildKey(path, important)
	h.cache.Insert(key, obj)

	h.serveObject(w, r, obj)
}

func objectFromResponse(resp *cache.Response) *cache.Object {
	headers := make(map[string]string, len(resp.Headers))
	for k := range resp.Headers {
		headers[k] = resp.Headers.Get(k)
	}
	sum := sha256.Sum256(resp.Body)
	return &cache.Object{
		Bytes:       resp.Body,
		Status:      resp.Status,
		Headers:     headers,
		ETag:        `"` + hex.EncodeToString(sum[:]) + `"`,
		AgeDeadline: time.Now().Add(time.Hour).Unix(),
	}
}

// serveObject writes obj to w, honoring If-None-Match for a 304.
func (h *Handler) serveObject(w http.ResponseWriter, r *http.Request, obj *cache.Object) {
	for k, v := range obj.Headers {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		w.Header().Set(k, v)
	}
	if obj.ETag != "" {
		w.Header().Set("ETag", obj.ETag)
		if inm := r.Header.Get("If-None-Match"); inm != "" && inm == obj.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	status := obj.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(obj.Bytes)
}
