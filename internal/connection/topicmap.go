package connection

import "github.com/odin-emotes/eventapi/internal/topic"

// topicEntry is one live subscription. gen disambiguates a stale
// "receiver closed" notification arriving after the key was replaced by a
// newer subscription.
type topicEntry struct {
	key    topic.Key
	cancel func()
	gen    uint64
	auto   *uint32 // remaining auto-unsubscribe count, nil if unbounded
}

// topicMap is a linear container: tens to low hundreds of subscriptions per
// connection make O(n) scan and swap-removal cheaper in practice than
// hash-map bookkeeping, and the hot path is "poll every receiver", not
// "look one up by key".
type topicMap struct {
	entries []topicEntry
	nextGen uint64
}

func newTopicMap() *topicMap { return &topicMap{} }

// find returns the index of the entry for key, or -1.
func (m *topicMap) find(key topic.Key) int {
	for i := range m.entries {
		if m.entries[i].key == key {
			return i
		}
	}
	return -1
}

// upsert replaces any existing entry for key (canceling it first) and
// inserts a fresh one, returning its generation.
func (m *topicMap) upsert(key topic.Key, cancel func(), auto *uint32) uint64 {
	m.nextGen++
	gen := m.nextGen
	if i := m.find(key); i >= 0 {
		old := m.entries[i].cancel
		m.entries[i] = topicEntry{key: key, cancel: cancel, gen: gen, auto: auto}
		if old != nil {
			old()
		}
		return gen
	}
	m.entries = append(m.entries, topicEntry{key: key, cancel: cancel, gen: gen, auto: auto})
	return gen
}

// remove drops the entry for key, calling its cancel func, and reports
// whether one existed.
func (m *topicMap) remove(key topic.Key) bool {
	i := m.find(key)
	if i < 0 {
		return false
	}
	entry := m.entries[i]
	last := len(m.entries) - 1
	m.entries[i] = m.entries[last]
	m.entries = m.entries[:last]
	if entry.cancel != nil {
		entry.cancel()
	}
	return true
}

// hasGen reports whether the live entry for key carries generation gen.
func (m *topicMap) hasGen(key topic.Key, gen uint64) bool {
	i := m.find(key)
	return i >= 0 && m.entries[i].gen == gen
}

// removeIfGen drops the entry for key only if its current generation
// matches gen, used to discard stale close notifications. Returns true if
// an entry was removed.
func (m *topicMap) removeIfGen(key topic.Key, gen uint64) bool {
	i := m.find(key)
	if i < 0 || m.entries[i].gen != gen {
		return false
	}
	last := len(m.entries) - 1
	m.entries[i] = m.entries[last]
	m.entries = m.entries[:last]
	return true
}

// decrementAuto decrements the auto-unsubscribe counter for key, if set,
// and reports whether the subscription should now be dropped.
func (m *topicMap) decrementAuto(key topic.Key) bool {
	i := m.find(key)
	if i < 0 || m.entries[i].auto == nil {
		return false
	}
	if *m.entries[i].auto <= 1 {
		return true
	}
	*m.entries[i].auto--
	return false
}

func (m *topicMap) len() int { return len(m.entries) }

// drain cancels every subscription, used when the connection closes.
func (m *topicMap) drain() {
	for _, e := range m.entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
	m.entries = nil
}
