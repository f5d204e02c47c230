package eventapi

import (
	"context"
	"fmt"

	"github.com/odin-emotes/eventapi/internal/auth"
	"github.com/odin-emotes/eventapi/internal/protocol"
)

// BridgeCommand is one entry in the Bridge (opcode 38) command whitelist:
// internal services trigger dispatch-shaped pushes through it without a
// full bus round trip. Each command produces the body of a
// synthesized Dispatch delivered only to the connection that sent it —
// this table never fans out to the fabric.
type BridgeCommand func(ctx context.Context, claims *auth.Claims, body any) (protocol.DispatchPayload, error)

// BridgeTable is the fixed set of commands the Bridge opcode accepts.
type BridgeTable struct {
	commands map[string]BridgeCommand
}

// NewBridgeTable builds an empty table; register commands with Register.
func NewBridgeTable() *BridgeTable {
	return &BridgeTable{commands: make(map[string]BridgeCommand)}
}

// Register adds a command to the whitelist. Registering twice for the same
// name replaces the previous entry.
func (t *BridgeTable) Register(name string, cmd BridgeCommand) {
	t.commands[name] = cmd
}

// Handle is a connection.BridgeHandler: it looks up the requested command
// and runs it, rejecting anything not on the whitelist.
func (t *BridgeTable) Handle(ctx context.Context, claims *auth.Claims, payload protocol.BridgePayload) (protocol.DispatchPayload, error) {
	cmd, ok := t.commands[payload.Command]
	if !ok {
		return protocol.DispatchPayload{}, fmt.Errorf("eventapi: unknown bridge command %q", payload.Command)
	}
	return cmd(ctx, claims, payload.Body)
}
