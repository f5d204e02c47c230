// Package topic implements the compact routing key used by the fan-out
// fabric: a (EventType, u64) pair derived from a subscription's event type
// and scope. Scope hashing trades collision-freedom for speed — collisions
// only ever leak an event to a subscriber that would have filtered it out at
// a higher layer, never a security boundary.
package topic

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/odin-emotes/eventapi/internal/id"
	"github.com/odin-emotes/eventapi/internal/protocol"
)

// Presence identifies a platform + platform-user-id pair, the non-object
// scope variant.
type Presence struct {
	Platform   string
	PlatformID string
}

// Scope is either an object Id or a Presence descriptor.
type Scope struct {
	ObjectID *id.ID
	Presence *Presence
}

// ScopeFromID builds an object-scoped Scope.
func ScopeFromID(v id.ID) Scope { return Scope{ObjectID: &v} }

// ScopeFromPresence builds a presence-scoped Scope.
func ScopeFromPresence(platform, platformID string) Scope {
	return Scope{Presence: &Presence{Platform: platform, PlatformID: platformID}}
}

// ScopeFromCondition turns a Subscribe payload's condition list into a Scope.
// The condition is expected to carry either "object_id" or both "platform"
// and "platform_id"; anything else is treated as an unscoped (global) topic
// keyed on the empty scope.
func ScopeFromCondition(cond []protocol.Condition) (Scope, error) {
	m := make(map[string]string, len(cond))
	for _, c := range cond {
		m[c.Key] = c.Value
	}
	if v, ok := m["object_id"]; ok {
		tagged, err := id.ParseNative(v)
		if err != nil {
			if legacy, lerr := id.ParseLegacy96(v); lerr == nil {
				tagged = legacy
			} else {
				return Scope{}, fmt.Errorf("topic: invalid object_id %q: %w", v, err)
			}
		}
		return ScopeFromID(tagged.ID), nil
	}
	if platform, ok := m["platform"]; ok {
		return ScopeFromPresence(platform, m["platform_id"]), nil
	}
	return Scope{}, nil
}

// canonicalBytes returns the stable byte representation that Hash hashes.
func (s Scope) canonicalBytes() []byte {
	if s.ObjectID != nil {
		return s.ObjectID[:]
	}
	if s.Presence != nil {
		return []byte(s.Presence.Platform + ":" + s.Presence.PlatformID)
	}
	return nil
}

// Hash returns the 64-bit non-cryptographic hash used as the low half of a
// TopicKey. The subject grammar's scope-hash is ConditionHash, not this.
func (s Scope) Hash() uint64 {
	b := s.canonicalBytes()
	if b == nil {
		return 0
	}
	return xxhash.Sum64(b)
}

// Key is the compact (EventType, u64) routing key used inside the fan-out.
type Key struct {
	Event EventTypeKey
	Scope uint64
}

// EventTypeKey is protocol.EventType, re-exported under this package so
// callers don't need both imports for the common case of building a Key.
type EventTypeKey = protocol.EventType

// EventTopic pairs an EventType with its Scope, the client-facing shape
// before it is compacted into a Key.
type EventTopic struct {
	Event protocol.EventType
	Scope Scope
}

// Key compacts an EventTopic into its routing key.
func (t EventTopic) Key() Key {
	return Key{Event: t.Event, Scope: t.Scope.Hash()}
}

// ConditionHash returns the hex SHA-256 scope-hash segment used in the bus
// subject grammar (`<prefix>.<event-type>.<scope-hash>`): a hex SHA-256 over
// the sorted (key, value) pairs, or "" if the condition is empty. Distinct
// from Scope.Hash(), the fast 64-bit routing key used internally by the
// fan-out fabric.
func ConditionHash(cond []protocol.Condition) string {
	if len(cond) == 0 {
		return ""
	}
	sorted := make([]protocol.Condition, len(cond))
	copy(sorted, cond)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	var sb strings.Builder
	for _, c := range sorted {
		sb.WriteString(c.Key)
		sb.WriteByte('=')
		sb.WriteString(c.Value)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
