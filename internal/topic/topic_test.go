package topic

import (
	"testing"

	"github.com/odin-emotes/eventapi/internal/id"
	"github.com/odin-emotes/eventapi/internal/protocol"
)

func TestKeyStableForSameScope(t *testing.T) {
	objID := id.New()
	a := EventTopic{Event: protocol.EventEmoteUpdated, Scope: ScopeFromID(objID)}
	b := EventTopic{Event: protocol.EventEmoteUpdated, Scope: ScopeFromID(objID)}
	if a.Key() != b.Key() {
		t.Fatalf("expected identical scopes to hash to the same key")
	}
}

func TestKeyDiffersAcrossEventTypes(t *testing.T) {
	objID := id.New()
	a := EventTopic{Event: protocol.EventEmoteUpdated, Scope: ScopeFromID(objID)}
	b := EventTopic{Event: protocol.EventEmoteCreated, Scope: ScopeFromID(objID)}
	if a.Key() == b.Key() {
		t.Fatalf("different event types must not collapse to the same key")
	}
}

func TestConditionHashOrderIndependent(t *testing.T) {
	c1 := []protocol.Condition{{Key: "object_id", Value: "x"}, {Key: "platform", Value: "y"}}
	c2 := []protocol.Condition{{Key: "platform", Value: "y"}, {Key: "object_id", Value: "x"}}
	if ConditionHash(c1) != ConditionHash(c2) {
		t.Fatalf("condition hash must not depend on input order")
	}
}

func TestConditionHashEmpty(t *testing.T) {
	if ConditionHash(nil) != "" {
		t.Fatalf("empty condition must hash to empty string per the subject grammar")
	}
}

func TestScopeFromConditionPresence(t *testing.T) {
	s, err := ScopeFromCondition([]protocol.Condition{{Key: "platform", Value: "twitch"}, {Key: "platform_id", Value: "123"}})
	if err != nil {
		t.Fatalf("ScopeFromCondition: %v", err)
	}
	if s.Presence == nil || s.Presence.Platform != "twitch" || s.Presence.PlatformID != "123" {
		t.Fatalf("expected presence scope, got %+v", s)
	}
}
