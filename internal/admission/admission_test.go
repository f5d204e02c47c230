package admission

import "testing"

func TestAdmitRejectsAtCapacity(t *testing.T) {
	g, err := NewGate(Config{ConnectionLimit: 1, ConnectionTarget: 1, IPv4Buckets: []Bucket{{PrefixBits: 32, Limit: 10}}})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	ticket, err := g.Admit("1.2.3.4:5000")
	if err != nil {
		t.Fatalf("expected first admit to succeed: %v", err)
	}
	if _, err := g.Admit("1.2.3.5:5000"); err == nil {
		t.Fatal("expected second admit to be rejected at capacity")
	}
	ticket.Release()
	if _, err := g.Admit("1.2.3.5:5000"); err != nil {
		t.Fatalf("expected admit to succeed after release: %v", err)
	}
}

func TestBucketLimitEnforced(t *testing.T) {
	g, err := NewGate(Config{
		ConnectionLimit: 100,
		IPv4Buckets:     []Bucket{{PrefixBits: 24, Limit: 1}},
	})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	if _, err := g.Admit("10.0.0.1:1"); err != nil {
		t.Fatalf("expected first in bucket to succeed: %v", err)
	}
	if _, err := g.Admit("10.0.0.2:1"); err == nil {
		t.Fatal("expected second connection in same /24 to be rejected")
	}
}

func TestOverrideZeroDenies(t *testing.T) {
	g, err := NewGate(Config{
		ConnectionLimit: 100,
		IPv4Buckets:     []Bucket{{PrefixBits: 32, Limit: 10}},
		Overrides:       []Override{{CIDR: "6.6.6.6/32", Limit: 0}},
	})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	if _, err := g.Admit("6.6.6.6:1"); err == nil {
		t.Fatal("expected override with limit 0 to deny")
	}
}

func TestAtTarget(t *testing.T) {
	g, err := NewGate(Config{ConnectionLimit: 10, ConnectionTarget: 1, IPv4Buckets: []Bucket{{PrefixBits: 32, Limit: 10}}})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	if g.AtTarget() {
		t.Fatal("expected not at target before any admits")
	}
	if _, err := g.Admit("1.1.1.1:1"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !g.AtTarget() {
		t.Fatal("expected at target after one admit with target=1")
	}
}
