package protocol

import "testing"

func TestOpcodeNumbersStable(t *testing.T) {
	// Wire contract: these values must never drift.
	cases := map[Opcode]int{
		OpDispatch:    0,
		OpHello:       1,
		OpHeartbeat:   2,
		OpReconnect:   4,
		OpAck:         5,
		OpError:       6,
		OpEndOfStream: 7,
		OpIdentify:    33,
		OpResume:      34,
		OpSubscribe:   35,
		OpUnsubscribe: 36,
		OpSignal:      37,
		OpBridge:      38,
	}
	for op, want := range cases {
		if int(op) != want {
			t.Fatalf("opcode %s renumbered: got %d want %d", op, int(op), want)
		}
	}
}

func TestCloseCodeStrings(t *testing.T) {
	cases := map[CloseCode]string{
		CloseServerError:  "server_error",
		CloseRateLimit:    "rate_limit",
		CloseTimeout:      "timeout",
		CloseSlowConsumer: "slow_consumer",
		CloseReconnect:    "reconnect",
	}
	for code, want := range cases {
		if got := code.AsCodeStr(); got != want {
			t.Fatalf("close code %d: got %q want %q", int(code), got, want)
		}
	}
	if CloseServerError.WebSocketCode() != 4000 {
		t.Fatalf("expected close codes to start at 4000, got %d", CloseServerError.WebSocketCode())
	}
}

func TestEventTypeValid(t *testing.T) {
	valid := []EventType{"emote.updated", "emote_set.created", "user.presence", "cosmetic.created"}
	for _, v := range valid {
		if !v.Valid() {
			t.Fatalf("expected %q to be valid", v)
		}
	}
	invalid := []EventType{"", ".", "emote..updated", "Emote.Updated", "emote updated"}
	for _, v := range invalid {
		if v.Valid() {
			t.Fatalf("expected %q to be invalid", v)
		}
	}
}
