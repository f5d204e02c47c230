// Package ws is the WebSocket transport.Adapter: gorilla/websocket upgrade,
// a dedicated read-pump goroutine feeding a channel, write/read deadlines
// refreshed by ping/pong. The adapter only exposes Send/Recv/Close — the
// connection state machine in internal/connection owns the loop.
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odin-emotes/eventapi/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	readChanBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is a single upgraded WebSocket connection.
type Conn struct {
	conn     *websocket.Conn
	readCh   chan *protocol.RawMessage
	errCh    chan error
	readDone chan struct{}

	closeOnce sync.Once
	pingStop  chan struct{}
}

// Upgrade upgrades an HTTP request to a WebSocket and starts its read pump
// and ping ticker. The caller drives Send/Recv from the connection state
// machine's own goroutine.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: upgrade: %w", err)
	}

	if tcpConn, ok := raw.UnderlyingConn().(*net.TCPConn); ok {
		_ = tuneTCPConn(tcpConn)
	}

	c := &Conn{
		conn:     raw,
		readCh:   make(chan *protocol.RawMessage, readChanBuffer),
		errCh:    make(chan error, 1),
		readDone: make(chan struct{}),
		pingStop: make(chan struct{}),
	}

	raw.SetReadLimit(maxMessageSize)
	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.pingLoop()

	return c, nil
}

func (c *Conn) readPump() {
	defer close(c.readDone)
	defer close(c.errCh)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.errCh <- err
			return
		}
		var msg protocol.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frame: ends the read pump like any other read
			// error. The state machine does not tell the two apart, so the
			// connection ends on its transport-error path and closes with
			// ServerError, not InvalidPayload.
			c.errCh <- fmt.Errorf("ws: malformed frame: %w", err)
			return
		}
		select {
		case c.readCh <- &msg:
		default:
			// Caller isn't keeping up with its own inbound traffic; drop
			// rather than block the pump, same trade-off the Topic Fabric
			// makes for lagging subscribers.
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.pingStop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send marshals and writes a single frame. The marshal target is a pooled
// buffer (bufpool.go) rather than a fresh json.Marshal allocation per
// frame, since this path runs on every dispatch fan-out to every
// subscriber.
func (c *Conn) Send(ctx context.Context, msg *protocol.RawMessage) error {
	bufPtr := getBuf(len(msg.D) + 64) // payload plus envelope overhead
	defer putBuf(bufPtr)

	buf := bytes.NewBuffer(*bufPtr)
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		return fmt.Errorf("ws: marshal: %w", err)
	}
	*bufPtr = buf.Bytes()
	data := bytes.TrimRight(*bufPtr, "\n")

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Recv returns the next client frame.
func (c *Conn) Recv(ctx context.Context) (*protocol.RawMessage, error) {
	select {
	case msg, ok := <-c.readCh:
		if !ok {
			return nil, <-c.errCh
		}
		return msg, nil
	case err := <-c.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a close frame mapped from code, waits for the peer to echo
// it, then tears down the socket.
func (c *Conn) Close(code protocol.CloseCode) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.pingStop)
		deadline := time.Now().Add(writeWait)
		closeMsg := websocket.FormatCloseMessage(code.WebSocketCode(), code.AsCodeStr())
		c.conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)

		// The peer's echoed close frame surfaces on the read pump as a
		// CloseError and ends it. Bound the wait so a vanished peer can't
		// pin the TCP connection.
		select {
		case <-c.readDone:
		case <-time.After(writeWait):
		}
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
