package purge

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStreamConfig(t *testing.T) {
	name, subjects, maxAge := StreamConfig("cdn_purge")
	if name != "CDN_PURGE" {
		t.Fatalf("unexpected stream name %q", name)
	}
	if len(subjects) != 2 || subjects[0] != "cdn_purge.request" || subjects[1] != "cdn_purge.response" {
		t.Fatalf("unexpected subjects %v", subjects)
	}
	if maxAge != 24*time.Hour {
		t.Fatalf("expected 24h max age, got %v", maxAge)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req := Request{Files: []string{"/emote/E/1x.webp", "/emote/E/2x.webp"}}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Request
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Files) != 2 || out.Files[0] != req.Files[0] {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
}
