package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher performs the single-flighted origin fetch: concurrent misses on
// the same key share one in-flight request via singleflight.Group instead
// of a bespoke in-flight-request map.
type Fetcher struct {
	client     *http.Client
	originURL  string
	serverName string
	group      singleflight.Group
}

// NewFetcher builds a Fetcher against originURL (the object store/bucket
// fronted by this edge), timing out each request after timeout.
func NewFetcher(originURL, serverName string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:     &http.Client{Timeout: timeout},
		originURL:  strings.TrimRight(originURL, "/"),
		serverName: serverName,
	}
}

// Response is the origin's answer: body, status, and the header set the
// edge must inspect for Vary before deciding cacheability.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Fetch retrieves path from the origin, single-flighted on path so N
// concurrent misses produce exactly one upstream request.
func (f *Fetcher) Fetch(ctx context.Context, path string) (*Response, error) {
	v, err, _ := f.group.Do(path, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.originURL+"/"+strings.TrimLeft(path, "/"), nil)
		if err != nil {
			return nil, fmt.Errorf("cdn: build origin request: %w", err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("cdn: origin fetch: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("cdn: read origin body: %w", err)
		}
		return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// ParseVary splits an origin response's Vary header into the header name
// list a path's PathMeta should remember, or reports uncacheable=true for
// "Vary: *".
func ParseVary(header string) (names []string, uncacheable bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, false
	}
	if header == "*" {
		return nil, true
	}
	for _, part := range strings.Split(header, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name != "" {
			names = append(names, name)
		}
	}
	return names, false
}
