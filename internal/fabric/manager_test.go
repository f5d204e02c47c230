package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/odin-emotes/eventapi/internal/metrics"
	"github.com/odin-emotes/eventapi/internal/protocol"
	"github.com/odin-emotes/eventapi/internal/topic"
)

func newTestManager(t *testing.T) (*Manager, context.CancelFunc) {
	t.Helper()
	m := NewManager(metrics.New(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	return m, cancel
}

func TestSubscribePublishDelivers(t *testing.T) {
	m, cancel := newTestManager(t)
	defer cancel()

	key := topic.Key{Event: protocol.EventEmoteUpdated, Scope: 42}
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()

	recv, unsub, err := m.Subscribe(ctx, key)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	msg := &protocol.RawMessage{Op: protocol.OpDispatch}
	if err := m.Publish(key, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-recv:
		if got != msg {
			t.Fatalf("expected same message pointer delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestPublishWithNoSubscribersIsMiss(t *testing.T) {
	m, cancel := newTestManager(t)
	defer cancel()

	key := topic.Key{Event: protocol.EventEmoteUpdated, Scope: 7}
	if err := m.Publish(key, &protocol.RawMessage{Op: protocol.OpDispatch}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.LiveTopics != 0 {
		t.Fatalf("expected no live topics after a miss, got %d", stats.LiveTopics)
	}
}

func TestUnsubscribeRemovesEmptyTopic(t *testing.T) {
	m, cancel := newTestManager(t)
	defer cancel()

	key := topic.Key{Event: protocol.EventUserUpdated, Scope: 1}
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()

	_, unsub, err := m.Subscribe(ctx, key)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	unsub()
	time.Sleep(50 * time.Millisecond)

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.LiveTopics != 0 {
		t.Fatalf("expected topic removed after last unsubscribe, got %d live", stats.LiveTopics)
	}
}
