package mutex

import "testing"

func TestDefaultConfigLeaseParameters(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Retries != 350 {
		t.Fatalf("expected 350 retries, got %d", cfg.Retries)
	}
	if cfg.RetryDelay.Milliseconds() != 30 {
		t.Fatalf("expected 30ms retry delay, got %v", cfg.RetryDelay)
	}
	if cfg.LeaseDuration.Seconds() != 5 {
		t.Fatalf("expected 5s lease, got %v", cfg.LeaseDuration)
	}
	if cfg.RefreshEvery.Seconds() != 2 {
		t.Fatalf("expected 2s refresh interval, got %v", cfg.RefreshEvery)
	}
}

func TestNewTokenIsUniqueAndHex(t *testing.T) {
	a, err := newToken()
	if err != nil {
		t.Fatalf("newToken: %v", err)
	}
	b, err := newToken()
	if err != nil {
		t.Fatalf("newToken: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct tokens across calls")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars (16 bytes), got %d", len(a))
	}
}
