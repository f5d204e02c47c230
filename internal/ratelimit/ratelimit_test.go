package ratelimit

import (
	"testing"
	"time"
)

func TestParseScriptResultAllowed(t *testing.T) {
	res, err := parseScriptResult([]interface{}{int64(1), int64(7), int64(500)}, 10)
	if err != nil {
		t.Fatalf("parseScriptResult: %v", err)
	}
	if !res.Allowed || res.Limit != 10 || res.Remaining != 7 || res.Used != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Reset != 500*time.Millisecond {
		t.Fatalf("unexpected reset: %v", res.Reset)
	}
}

func TestParseScriptResultDenied(t *testing.T) {
	res, err := parseScriptResult([]interface{}{int64(0), int64(0), int64(1000)}, 5)
	if err != nil {
		t.Fatalf("parseScriptResult: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected denied result")
	}
	if res.Used != 5 {
		t.Fatalf("expected full bucket used on denial, got %d", res.Used)
	}
}

func TestParseScriptResultMalformed(t *testing.T) {
	if _, err := parseScriptResult("garbage", 5); err == nil {
		t.Fatal("expected error on malformed script result")
	}
}
