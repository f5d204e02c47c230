package cache

import (
	"testing"

	"github.com/odin-emotes/eventapi/internal/metrics"
)

func TestVaryKeyingSeparatesEncodings(t *testing.T) {
	c, err := New(1<<20, metrics.New())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	gzipKey := BuildKey("/file", []HeaderValue{{Name: "accept-encoding", Value: "gzip"}})
	brKey := BuildKey("/file", []HeaderValue{{Name: "accept-encoding", Value: "br"}})

	c.Insert(gzipKey, &Object{Bytes: []byte("gzip-body")})

	if _, ok := c.Get(gzipKey); !ok {
		t.Fatal("expected hit for gzip key")
	}
	if _, ok := c.Get(brKey); ok {
		t.Fatal("expected miss for a different Vary projection")
	}
}

func TestPurgeRemovesAllKeysForPath(t *testing.T) {
	c, err := New(1<<20, metrics.New())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	k1 := BuildKey("/emote/E/1x.webp", []HeaderValue{{Name: "accept-encoding", Value: "gzip"}})
	k2 := BuildKey("/emote/E/1x.webp", []HeaderValue{{Name: "accept-encoding", Value: "br"}})
	other := BuildKey("/emote/F/1x.webp", nil)

	c.Insert(k1, &Object{Bytes: []byte("a")})
	c.Insert(k2, &Object{Bytes: []byte("b")})
	c.Insert(other, &Object{Bytes: []byte("c")})

	c.Purge([]string{"/emote/E/1x.webp"})

	if _, ok := c.Get(k1); ok {
		t.Fatal("expected k1 purged")
	}
	if _, ok := c.Get(k2); ok {
		t.Fatal("expected k2 purged")
	}
	if _, ok := c.Get(other); !ok {
		t.Fatal("expected unrelated path to survive purge")
	}
}

func TestByteBudgetEvictsOldest(t *testing.T) {
	c, err := New(10, metrics.New())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	first := BuildKey("/a", nil)
	second := BuildKey("/b", nil)

	c.Insert(first, &Object{Bytes: []byte("12345")})
	c.Insert(second, &Object{Bytes: []byte("67890abcdef")}) // pushes over budget

	if _, ok := c.Get(first); ok {
		t.Fatal("expected first entry evicted once the byte budget was exceeded")
	}
}

func TestParseVaryStar(t *testing.T) {
	names, uncacheable := ParseVary("*")
	if !uncacheable {
		t.Fatal("expected Vary: * to be uncacheable")
	}
	if names != nil {
		t.Fatalf("expected no names for Vary: *, got %v", names)
	}
}

func TestParseVaryList(t *testing.T) {
	names, uncacheable := ParseVary("Accept-Encoding, X-Platform")
	if uncacheable {
		t.Fatal("expected cacheable")
	}
	if len(names) != 2 || names[0] != "accept-encoding" || names[1] != "x-platform" {
		t.Fatalf("unexpected parsed names: %v", names)
	}
}
