package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/odin-emotes/eventapi/internal/fabric"
	"github.com/odin-emotes/eventapi/internal/metrics"
	"github.com/odin-emotes/eventapi/internal/protocol"
	"github.com/odin-emotes/eventapi/internal/topic"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []*protocol.RawMessage
	inbound chan *protocol.RawMessage
	closed  chan protocol.CloseCode
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan *protocol.RawMessage, 8),
		closed:  make(chan protocol.CloseCode, 1),
	}
}

func (f *fakeTransport) Send(ctx context.Context, msg *protocol.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Recv(ctx context.Context) (*protocol.RawMessage, error) {
	select {
	case msg, ok := <-f.inbound:
		if !ok {
			return nil, fmt.Errorf("fake transport closed")
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close(code protocol.CloseCode) error {
	select {
	case f.closed <- code:
	default:
	}
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "127.0.0.1:0" }

func (f *fakeTransport) lastSent() *protocol.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func encode(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestConnectionHelloSubscribeDispatch(t *testing.T) {
	fm := fabric.NewManager(metrics.New(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fm.Run(ctx)

	tr := newFakeTransport()
	cfg := Config{
		SessionID:         "sess-1",
		HeartbeatInterval: time.Hour,
		ConnectionTTL:     time.Hour,
		SubscriptionLimit: 10,
	}
	conn := New(cfg, tr, fm, metrics.New(), zerolog.Nop())

	connDone := make(chan error, 1)
	go func() { connDone <- conn.Run(ctx) }()

	waitFor(t, func() bool { return tr.sentCount() >= 1 })
	hello := tr.lastSent()
	if hello.Op != protocol.OpHello {
		t.Fatalf("expected first frame to be Hello, got %v", hello.Op)
	}

	sub := protocol.SubscribePayload{Type: protocol.EventEmoteUpdated}
	tr.inbound <- &protocol.RawMessage{Op: protocol.OpSubscribe, D: encode(t, sub)}

	waitFor(t, func() bool {
		m := tr.lastSent()
		return m != nil && m.Op == protocol.OpAck
	})

	key := topic.EventTopic{Event: protocol.EventEmoteUpdated}.Key()
	dispatch := &protocol.RawMessage{Op: protocol.OpDispatch, D: encode(t, protocol.DispatchPayload{Type: protocol.EventEmoteUpdated})}
	if err := fm.Publish(key, dispatch); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		m := tr.lastSent()
		return m != nil && m.Op == protocol.OpDispatch
	})

	cancel()
	<-connDone
}

func (f *fakeTransport) countOp(op protocol.Opcode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Op == op {
			n++
		}
	}
	return n
}

func (f *fakeTransport) lastOp(op protocol.Opcode) *protocol.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Op == op {
			return f.sent[i]
		}
	}
	return nil
}

func TestFirstDispatchCarriesSequenceOne(t *testing.T) {
	fm := fabric.NewManager(metrics.New(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fm.Run(ctx)

	tr := newFakeTransport()
	cfg := Config{
		SessionID:         "sess-seq",
		HeartbeatInterval: time.Hour,
		ConnectionTTL:     time.Hour,
		SubscriptionLimit: 10,
	}
	conn := New(cfg, tr, fm, metrics.New(), zerolog.Nop())
	go func() { _ = conn.Run(ctx) }()

	tr.inbound <- &protocol.RawMessage{Op: protocol.OpSubscribe, D: encode(t, protocol.SubscribePayload{Type: protocol.EventEmoteUpdated})}
	waitFor(t, func() bool { return tr.countOp(protocol.OpAck) >= 1 })

	// Hello and Ack must not consume sequence numbers.
	if hello := tr.lastOp(protocol.OpHello); hello == nil || hello.S != 0 {
		t.Fatalf("expected Hello with s=0, got %+v", hello)
	}

	key := topic.EventTopic{Event: protocol.EventEmoteUpdated}.Key()
	if err := fm.Publish(key, &protocol.RawMessage{Op: protocol.OpDispatch, D: encode(t, protocol.DispatchPayload{Type: protocol.EventEmoteUpdated})}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return tr.countOp(protocol.OpDispatch) >= 1 })

	if d := tr.lastOp(protocol.OpDispatch); d.S != 1 {
		t.Fatalf("expected first dispatch to carry s=1, got %d", d.S)
	}
}

func TestAutoUnsubscribeAfterTTL(t *testing.T) {
	fm := fabric.NewManager(metrics.New(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fm.Run(ctx)

	tr := newFakeTransport()
	cfg := Config{
		SessionID:         "sess-ttl",
		HeartbeatInterval: time.Hour,
		ConnectionTTL:     time.Hour,
		SubscriptionLimit: 10,
	}
	conn := New(cfg, tr, fm, metrics.New(), zerolog.Nop())
	go func() { _ = conn.Run(ctx) }()

	ttl := uint32(2)
	tr.inbound <- &protocol.RawMessage{Op: protocol.OpSubscribe, D: encode(t, protocol.SubscribePayload{Type: protocol.EventEmoteUpdated, TTL: &ttl})}
	waitFor(t, func() bool { return tr.countOp(protocol.OpAck) >= 1 })

	key := topic.EventTopic{Event: protocol.EventEmoteUpdated}.Key()
	dispatch := func() {
		if err := fm.Publish(key, &protocol.RawMessage{Op: protocol.OpDispatch, D: encode(t, protocol.DispatchPayload{Type: protocol.EventEmoteUpdated})}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	dispatch()
	waitFor(t, func() bool { return tr.countOp(protocol.OpDispatch) == 1 })
	dispatch()
	waitFor(t, func() bool { return tr.countOp(protocol.OpDispatch) == 2 })

	// The subscription auto-expired after two deliveries; a third matching
	// event must produce no frame.
	dispatch()
	time.Sleep(100 * time.Millisecond)
	if n := tr.countOp(protocol.OpDispatch); n != 2 {
		t.Fatalf("expected exactly 2 dispatch frames after ttl expiry, got %d", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
