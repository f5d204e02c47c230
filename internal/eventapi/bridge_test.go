package eventapi

import (
	"context"
	"testing"

	"github.com/odin-emotes/eventapi/internal/auth"
	"github.com/odin-emotes/eventapi/internal/protocol"
)

func TestBridgeTableUnknownCommandRejected(t *testing.T) {
	table := NewBridgeTable()
	_, err := table.Handle(context.Background(), nil, protocol.BridgePayload{Command: "nope"})
	if err == nil {
		t.Fatal("expected error for unregistered command")
	}
}

func TestBridgeTableDispatchesRegisteredCommand(t *testing.T) {
	table := NewBridgeTable()
	called := false
	table.Register("cosmetic.created", func(_ context.Context, _ *auth.Claims, body any) (protocol.DispatchPayload, error) {
		called = true
		return protocol.DispatchPayload{Type: protocol.EventCosmeticCreated, Body: protocol.ChangeMap{Object: body}}, nil
	})

	dispatch, err := table.Handle(context.Background(), nil, protocol.BridgePayload{Command: "cosmetic.created", Body: "x"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !called {
		t.Fatal("expected registered command to run")
	}
	if dispatch.Type != protocol.EventCosmeticCreated {
		t.Fatalf("unexpected dispatch: %+v", dispatch)
	}
}
