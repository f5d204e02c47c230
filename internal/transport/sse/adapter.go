// Package sse is the unidirectional Server-Sent Events transport.Adapter:
// text/event-stream headers and an http.Flusher-driven write loop. The
// connection state machine's own heartbeat ticker (internal/connection)
// drives keepalive traffic transport-agnostically over Send, so this
// adapter needs no ticker of its own. Recv always fails — SSE carries no
// client-to-server frames, so an SSE connection's subscriptions are given
// as `subscribe` query parameters on the SSE request itself (see
// internal/server); Identify and the other client opcodes are unavailable.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/odin-emotes/eventapi/internal/protocol"
	"github.com/odin-emotes/eventapi/internal/transport"
)

// Conn is a single SSE response stream.
type Conn struct {
	w       http.ResponseWriter
	flusher http.Flusher
	remote  string

	mu     sync.Mutex
	closed bool
}

// New wraps w as an SSE stream. The caller must have already validated the
// request (auth, admission) before calling New, since headers are written
// immediately.
func New(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: streaming not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Conn{w: w, flusher: flusher, remote: r.RemoteAddr}, nil
}

// Send writes msg as a single SSE event, framed as `event: <op>` /
// `data: <json>` per the opcode's lowercase name.
func (c *Conn) Send(ctx context.Context, msg *protocol.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("sse: connection closed")
	}

	// The event name and id carry the envelope's op and seq; data is the
	// payload alone, already JSON-encoded upstream.
	data := msg.D
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\nid: %d\ndata: %s\n\n", msg.Op.String(), msg.S, data); err != nil {
		return fmt.Errorf("sse: write: %w", err)
	}
	c.flusher.Flush()
	return nil
}

// Recv never returns a frame: SSE is send-only.
func (c *Conn) Recv(ctx context.Context) (*protocol.RawMessage, error) {
	<-ctx.Done()
	return nil, transport.ErrReadNotSupported{}
}

// Close writes the terminal `event: close` frame, then marks the stream
// closed; the HTTP response ends when the handler returns. A WebSocket
// client reads the mapped close code from the WS close frame; this
// pseudo-frame carries the same code for an SSE client that has no WS close
// frame to observe.
func (c *Conn) Close(code protocol.CloseCode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	data, err := json.Marshal(protocol.EndOfStreamPayload{Code: code})
	if err != nil {
		return fmt.Errorf("sse: marshal close frame: %w", err)
	}
	if _, err := fmt.Fprintf(c.w, "event: close\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("sse: write close frame: %w", err)
	}
	c.flusher.Flush()
	return nil
}

// RemoteAddr returns the peer address captured at handshake time.
func (c *Conn) RemoteAddr() string { return c.remote }
