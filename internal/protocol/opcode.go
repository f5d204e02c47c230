// Package protocol defines the wire contract shared by the WebSocket and SSE
// transports: opcodes, close codes, and the envelope/payload shapes. The
// numeric opcode values are part of the wire contract and must not be
// renumbered — clients across every transport depend on them.
package protocol

// Opcode identifies the shape of a Message's payload.
type Opcode int

const (
	OpDispatch     Opcode = 0
	OpHello        Opcode = 1
	OpHeartbeat    Opcode = 2
	OpReconnect    Opcode = 4
	OpAck          Opcode = 5
	OpError        Opcode = 6
	OpEndOfStream  Opcode = 7
	OpIdentify     Opcode = 33
	OpResume       Opcode = 34
	OpSubscribe    Opcode = 35
	OpUnsubscribe  Opcode = 36
	OpSignal       Opcode = 37
	OpBridge       Opcode = 38
)

// String renders the opcode's lowercase name, used as the SSE `event:` field.
func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHello:
		return "hello"
	case OpHeartbeat:
		return "heartbeat"
	case OpReconnect:
		return "reconnect"
	case OpAck:
		return "ack"
	case OpError:
		return "error"
	case OpEndOfStream:
		return "endofstream"
	case OpIdentify:
		return "identify"
	case OpResume:
		return "resume"
	case OpSubscribe:
		return "subscribe"
	case OpUnsubscribe:
		return "unsubscribe"
	case OpSignal:
		return "signal"
	case OpBridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// CloseCode is the closed set of application-level close reasons, mapped
// one-to-one onto WebSocket 4000-range close codes.
type CloseCode int

const (
	CloseServerError CloseCode = 4000 + iota
	CloseUnknownOperation
	CloseInvalidPayload
	CloseAuthFailure
	CloseAlreadyIdentified
	CloseRateLimit
	_ // reserved, keeps numbering stable if a variant is ever retired
	CloseRestart
	CloseMaintenance
	CloseTimeout
	CloseSlowConsumer
	CloseReconnect
)

// AsCodeStr returns the stable metrics label for a close code.
func (c CloseCode) AsCodeStr() string {
	switch c {
	case CloseServerError:
		return "server_error"
	case CloseUnknownOperation:
		return "unknown_operation"
	case CloseInvalidPayload:
		return "invalid_payload"
	case CloseAuthFailure:
		return "auth_failure"
	case CloseAlreadyIdentified:
		return "already_identified"
	case CloseRateLimit:
		return "rate_limit"
	case CloseRestart:
		return "restart"
	case CloseMaintenance:
		return "maintenance"
	case CloseTimeout:
		return "timeout"
	case CloseSlowConsumer:
		return "slow_consumer"
	case CloseReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// WebSocketCode returns the numeric WS close code for this close code. The
// application range (4000+) already matches what we send, this exists to
// make the mapping explicit at the one call site that writes a WS close frame.
func (c CloseCode) WebSocketCode() int {
	return int(c)
}
