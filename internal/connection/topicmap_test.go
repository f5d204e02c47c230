package connection

import (
	"testing"

	"github.com/odin-emotes/eventapi/internal/protocol"
	"github.com/odin-emotes/eventapi/internal/topic"
)

func TestUpsertReplacesAndCancelsOld(t *testing.T) {
	m := newTopicMap()
	key := topic.Key{Event: protocol.EventEmoteUpdated, Scope: 1}

	oldCanceled := false
	m.upsert(key, func() { oldCanceled = true }, nil)
	m.upsert(key, func() {}, nil)

	if !oldCanceled {
		t.Fatal("expected previous subscription to be canceled on replace")
	}
	if m.len() != 1 {
		t.Fatalf("expected exactly one entry after replace, got %d", m.len())
	}
}

func TestRemoveCallsCancel(t *testing.T) {
	m := newTopicMap()
	key := topic.Key{Event: protocol.EventEmoteUpdated, Scope: 1}
	canceled := false
	m.upsert(key, func() { canceled = true }, nil)

	if !m.remove(key) {
		t.Fatal("expected remove to report an entry existed")
	}
	if !canceled {
		t.Fatal("expected cancel to run on remove")
	}
	if m.len() != 0 {
		t.Fatal("expected map empty after remove")
	}
}

func TestRemoveIfGenIgnoresStale(t *testing.T) {
	m := newTopicMap()
	key := topic.Key{Event: protocol.EventUserUpdated, Scope: 2}
	gen := m.upsert(key, func() {}, nil)

	// Simulate a newer subscription replacing this one.
	m.upsert(key, func() {}, nil)

	if m.removeIfGen(key, gen) {
		t.Fatal("expected stale generation to be rejected")
	}
	if m.len() != 1 {
		t.Fatal("expected the newer entry to survive")
	}
}

func TestDecrementAutoSignalsExpiry(t *testing.T) {
	m := newTopicMap()
	key := topic.Key{Event: protocol.EventEmoteCreated, Scope: 3}
	ttl := uint32(2)
	m.upsert(key, func() {}, &ttl)

	if m.decrementAuto(key) {
		t.Fatal("expected first decrement to not yet expire (2 -> 1)")
	}
	if !m.decrementAuto(key) {
		t.Fatal("expected second decrement to signal expiry (1 -> drop)")
	}
}
