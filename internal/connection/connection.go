// Package connection implements the per-client protocol state machine:
// AwaitingHello -> Active -> Closing -> Closed, subscribe/unsubscribe,
// heartbeats, TTL, and dispatch delivery. One goroutine owns all connection
// state; transport reads/writes and topic delivery are fed in over
// channels and drained by that goroutine's read-pump-plus-select-loop.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/odin-emotes/eventapi/internal/auth"
	"github.com/odin-emotes/eventapi/internal/fabric"
	"github.com/odin-emotes/eventapi/internal/metrics"
	"github.com/odin-emotes/eventapi/internal/protocol"
	"github.com/odin-emotes/eventapi/internal/topic"
	"github.com/odin-emotes/eventapi/internal/transport"
)

// BridgeHandler executes a client-originated Bridge command and returns the
// body of the Dispatch whispered back to the sending connection alone.
type BridgeHandler func(ctx context.Context, claims *auth.Claims, cmd protocol.BridgePayload) (protocol.DispatchPayload, error)

// Config fixes the knobs a Connection is built with.
type Config struct {
	SessionID         string
	HeartbeatInterval time.Duration
	ConnectionTTL     time.Duration
	SubscriptionLimit int
	RequireAuth       bool
	JWTManager        *auth.JWTManager
	Bridge            BridgeHandler

	// InitialSubscriptions are applied right after Hello, before any client
	// frame is read. SSE clients can't send Subscribe frames, so their
	// subscriptions arrive as query parameters and land here.
	InitialSubscriptions []protocol.SubscribePayload
}

type dispatchEvent struct {
	key topic.Key
	gen uint64
	msg *protocol.RawMessage
}

type goneEvent struct {
	key topic.Key
	gen uint64
}

// Connection owns one client's entire lifecycle.
type Connection struct {
	cfg       Config
	transport transport.Adapter
	fabric    *fabric.Manager
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	state   State
	seq     uint64
	topics  *topicMap
	claims  *auth.Claims
	subRate *rate.Limiter

	dispatchCh chan dispatchEvent
	goneCh     chan goneEvent
	done       chan struct{}

	createdAt    time.Time
	lastActivity time.Time
}

// New builds a Connection ready to Run.
func New(cfg Config, t transport.Adapter, f *fabric.Manager, m *metrics.Metrics, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:          cfg,
		transport:    t,
		fabric:       f,
		metrics:      m,
		logger:       logger.With().Str("session_id", cfg.SessionID).Logger(),
		state:        AwaitingHello,
		topics:       newTopicMap(),
		subRate:      rate.NewLimiter(rate.Limit(5), 10),
		dispatchCh:   make(chan dispatchEvent, 64),
		goneCh:       make(chan goneEvent, 16),
		done:         make(chan struct{}),
		createdAt:    time.Now(),
		lastActivity: time.Now(),
	}
}

// Run drives the connection until it closes or ctx is canceled. It always
// returns after sending a final close frame.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(c.done)
	defer c.topics.drain()
	// Backstop for the client-initiated close path: both transports make
	// Close idempotent, so this is a no-op when closeWith already ran.
	defer func() { _ = c.transport.Close(protocol.CloseServerError) }()

	c.metrics.ConnectionsTotal.Inc()
	c.metrics.ConnectionsActive.Inc()
	defer c.metrics.ConnectionsActive.Dec()
	defer c.metrics.RecordConnectionDuration(c.createdAt)

	if err := c.sendHello(ctx); err != nil {
		return fmt.Errorf("connection: hello: %w", err)
	}
	c.state = Active

	for _, sub := range c.cfg.InitialSubscriptions {
		if code, ok := c.subscribe(ctx, sub); !ok {
			return c.closeWith(code, code.AsCodeStr())
		}
	}

	inboundCh := make(chan *protocol.RawMessage, 1)
	inboundErrCh := make(chan error, 1)
	go func() {
		for {
			msg, err := c.transport.Recv(ctx)
			if err != nil {
				inboundErrCh <- err
				return
			}
			select {
			case inboundCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeatTicker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	ttlTimer := time.NewTimer(c.cfg.ConnectionTTL)
	defer ttlTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.closeWith(protocol.CloseRestart, "")

		case err := <-inboundErrCh:
			if err != nil {
				c.logger.Debug().Err(err).Msg("connection: transport recv ended")
			}
			return c.finalize()

		case msg := <-inboundCh:
			c.lastActivity = time.Now()
			if code, ok := c.handleInbound(ctx, msg); !ok {
				return c.closeWith(code, code.AsCodeStr())
			}

		case ev := <-c.dispatchCh:
			// A frame can still be in flight from a pump whose
			// subscription was since replaced or auto-expired; drop it.
			if !c.topics.hasGen(ev.key, ev.gen) {
				continue
			}
			if err := c.sendSeq(ctx, ev.msg); err != nil {
				return c.finalize()
			}
			if c.topics.decrementAuto(ev.key) {
				c.topics.remove(ev.key)
			}

		case ev := <-c.goneCh:
			if c.topics.removeIfGen(ev.key, ev.gen) {
				// Subscriber channel closed while still registered: the
				// fabric dropped it for lagging. The connection self-closes
				// rather than silently losing dispatches.
				return c.closeWith(protocol.CloseSlowConsumer, "")
			}

		case <-heartbeatTicker.C:
			if time.Since(c.lastActivity) > 3*c.cfg.HeartbeatInterval {
				return c.closeWith(protocol.CloseTimeout, "")
			}
			if err := c.send(ctx, protocol.OpHeartbeat, struct{}{}); err != nil {
				return c.finalize()
			}

		case <-ttlTimer.C:
			return c.closeWith(protocol.CloseReconnect, "")
		}
	}
}

func (c *Connection) sendHello(ctx context.Context) error {
	return c.send(ctx, protocol.OpHello, protocol.HelloPayload{
		HeartbeatInterval: c.cfg.HeartbeatInterval.Milliseconds(),
		SessionID:         c.cfg.SessionID,
		SubscriptionLimit: c.cfg.SubscriptionLimit,
	})
}

// handleInbound processes one client frame. ok=false means the connection
// must close with the returned code.
func (c *Connection) handleInbound(ctx context.Context, msg *protocol.RawMessage) (protocol.CloseCode, bool) {
	switch msg.Op {
	case protocol.OpIdentify:
		return c.handleIdentify(ctx, msg)
	case protocol.OpResume:
		return c.handleResume(ctx, msg)
	case protocol.OpSubscribe:
		return c.handleSubscribe(ctx, msg)
	case protocol.OpUnsubscribe:
		return c.handleUnsubscribe(ctx, msg)
	case protocol.OpHeartbeat:
		return 0, true
	case protocol.OpBridge:
		return c.handleBridge(ctx, msg)
	default:
		return protocol.CloseUnknownOperation, false
	}
}

func (c *Connection) handleIdentify(ctx context.Context, msg *protocol.RawMessage) (protocol.CloseCode, bool) {
	if c.claims != nil {
		return protocol.CloseAlreadyIdentified, false
	}
	var payload protocol.IdentifyPayload
	if err := json.Unmarshal(msg.D, &payload); err != nil {
		return protocol.CloseInvalidPayload, false
	}
	if c.cfg.JWTManager == nil {
		return protocol.CloseAuthFailure, false
	}
	claims, err := c.cfg.JWTManager.Verify(payload.Token)
	if err != nil {
		return protocol.CloseAuthFailure, false
	}
	c.claims = claims
	if err := c.send(ctx, protocol.OpAck, protocol.AckPayload{Command: "identify"}); err != nil {
		return protocol.CloseServerError, false
	}
	return 0, true
}

func (c *Connection) handleResume(ctx context.Context, msg *protocol.RawMessage) (protocol.CloseCode, bool) {
	var payload protocol.ResumePayload
	if err := json.Unmarshal(msg.D, &payload); err != nil {
		return protocol.CloseInvalidPayload, false
	}
	// No replay: last_seq is informational only.
	if err := c.send(ctx, protocol.OpAck, protocol.AckPayload{Command: "resume"}); err != nil {
		return protocol.CloseServerError, false
	}
	return 0, true
}

func (c *Connection) handleSubscribe(ctx context.Context, msg *protocol.RawMessage) (protocol.CloseCode, bool) {
	if !c.subRate.Allow() {
		return protocol.CloseRateLimit, false
	}
	var payload protocol.SubscribePayload
	if err := json.Unmarshal(msg.D, &payload); err != nil {
		return protocol.CloseInvalidPayload, false
	}
	if code, ok := c.subscribe(ctx, payload); !ok {
		return code, false
	}
	if err := c.send(ctx, protocol.OpAck, protocol.AckPayload{Command: "subscribe"}); err != nil {
		return protocol.CloseServerError, false
	}
	return 0, true
}

// subscribe installs one subscription without acking, shared by the
// Subscribe opcode handler and the initial-subscription list.
func (c *Connection) subscribe(ctx context.Context, payload protocol.SubscribePayload) (protocol.CloseCode, bool) {
	if !payload.Type.Valid() {
		return protocol.CloseInvalidPayload, false
	}
	if c.cfg.RequireAuth && c.claims == nil {
		return protocol.CloseAuthFailure, false
	}
	if c.topics.len() >= c.cfg.SubscriptionLimit {
		return protocol.CloseInvalidPayload, false
	}

	scope, err := topic.ScopeFromCondition(payload.Condition)
	if err != nil {
		return protocol.CloseInvalidPayload, false
	}
	key := topic.EventTopic{Event: payload.Type, Scope: scope}.Key()

	recv, cancel, err := c.fabric.Subscribe(ctx, key)
	if err != nil {
		return protocol.CloseServerError, false
	}

	var auto *uint32
	if payload.TTL != nil {
		v := *payload.TTL
		auto = &v
	}
	gen := c.topics.upsert(key, cancel, auto)
	go c.pumpTopic(key, gen, recv)
	return 0, true
}

func (c *Connection) handleUnsubscribe(ctx context.Context, msg *protocol.RawMessage) (protocol.CloseCode, bool) {
	var payload protocol.UnsubscribePayload
	if err := json.Unmarshal(msg.D, &payload); err != nil {
		return protocol.CloseInvalidPayload, false
	}
	scope, err := topic.ScopeFromCondition(payload.Condition)
	if err != nil {
		return protocol.CloseInvalidPayload, false
	}
	key := topic.EventTopic{Event: payload.Type, Scope: scope}.Key()
	c.topics.remove(key)

	if err := c.send(ctx, protocol.OpAck, protocol.AckPayload{Command: "unsubscribe"}); err != nil {
		return protocol.CloseServerError, false
	}
	return 0, true
}

func (c *Connection) handleBridge(ctx context.Context, msg *protocol.RawMessage) (protocol.CloseCode, bool) {
	var payload protocol.BridgePayload
	if err := json.Unmarshal(msg.D, &payload); err != nil {
		return protocol.CloseInvalidPayload, false
	}
	if c.cfg.Bridge == nil {
		return protocol.CloseUnknownOperation, false
	}
	dispatch, err := c.cfg.Bridge(ctx, c.claims, payload)
	if err != nil {
		if sendErr := c.send(ctx, protocol.OpError, protocol.ErrorPayload{Message: err.Error(), Code: int(protocol.CloseInvalidPayload)}); sendErr != nil {
			return protocol.CloseServerError, false
		}
		return 0, true
	}
	whisper := c.cfg.SessionID
	dispatch.Whisper = &whisper
	if err := c.send(ctx, protocol.OpDispatch, dispatch); err != nil {
		return protocol.CloseServerError, false
	}
	return 0, true
}

// pumpTopic forwards dispatches from a single subscription's receiver into
// the connection's shared dispatch channel, running until the receiver
// closes (explicit unsubscribe or fabric-side lag drop) or the connection
// itself is done.
func (c *Connection) pumpTopic(key topic.Key, gen uint64, recv fabric.Receiver) {
	for {
		select {
		case msg, ok := <-recv:
			if !ok {
				select {
				case c.goneCh <- goneEvent{key: key, gen: gen}:
				case <-c.done:
				}
				return
			}
			select {
			case c.dispatchCh <- dispatchEvent{key: key, gen: gen, msg: msg}:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) send(ctx context.Context, op protocol.Opcode, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	// Only dispatch frames consume sequence numbers; control frames carry
	// the current counter so a client can still order them against the
	// dispatch stream.
	if op == protocol.OpDispatch {
		c.seq++
		c.metrics.DispatchesSent.Inc()
	}
	msg := &protocol.RawMessage{Op: op, D: data, S: c.seq, T: time.Now().UnixMilli()}
	return c.transport.Send(ctx, msg)
}

// sendSeq re-stamps a fabric-delivered dispatch with this connection's own
// monotonic sequence number before writing it — the fabric's copy is shared
// across every subscriber and must not be mutated or reused as-is.
func (c *Connection) sendSeq(ctx context.Context, msg *protocol.RawMessage) error {
	c.seq++
	out := &protocol.RawMessage{Op: msg.Op, D: msg.D, S: c.seq, T: time.Now().UnixMilli()}
	c.metrics.DispatchesSent.Inc()
	return c.transport.Send(ctx, out)
}

func (c *Connection) closeWith(code protocol.CloseCode, message string) error {
	c.state = Closing
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if code == protocol.CloseServerError || code == protocol.CloseRestart {
		_ = c.send(ctx, protocol.OpEndOfStream, protocol.EndOfStreamPayload{Code: code, Message: message})
	} else if message != "" {
		_ = c.send(ctx, protocol.OpError, protocol.ErrorPayload{Message: message, Code: int(code)})
	}
	c.metrics.CloseReasons.WithLabelValues(code.AsCodeStr()).Inc()
	err := c.transport.Close(code)
	c.state = Closed
	return err
}

func (c *Connection) finalize() error {
	c.state = Closed
	return nil
}
