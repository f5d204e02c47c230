// Package transport defines the uniform interface the connection state
// machine drives regardless of whether the underlying wire is a WebSocket
// or a unidirectional SSE stream.
package transport

import (
	"context"

	"github.com/odin-emotes/eventapi/internal/protocol"
)

// Adapter is a bidirectional (WebSocket) or send-only (SSE) frame pipe.
// SSE implementations return ErrReadNotSupported from Recv.
type Adapter interface {
	// Send writes a single frame to the peer.
	Send(ctx context.Context, msg *protocol.RawMessage) error

	// Recv reads the next client frame. Blocks until one arrives, ctx is
	// canceled, or the connection closes.
	Recv(ctx context.Context) (*protocol.RawMessage, error)

	// Close closes the underlying connection with the given close code.
	Close(code protocol.CloseCode) error

	// RemoteAddr returns the peer's address for logging and admission
	// bucket keys.
	RemoteAddr() string
}

// ErrReadNotSupported is returned by Recv on send-only transports (SSE).
type ErrReadNotSupported struct{}

func (ErrReadNotSupported) Error() string { return "transport: peer cannot send frames on this transport" }
