// Package eventapi wires the bus client, topic fabric, and connection
// state machine together into the end-to-end dispatch path: an external
// publish on "<prefix>.<event-type>.<scope-hash>" reaches the fabric's
// registry via this package's ingress handler, which recomputes the same
// TopicKey a subscriber would have computed from the Dispatch body's
// condition list. The wire scope-hash segment is a SHA-256 used only for
// subject uniqueness; the fabric routes on the faster 64-bit scope hash.
package eventapi

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/odin-emotes/eventapi/internal/bus"
	"github.com/odin-emotes/eventapi/internal/fabric"
	"github.com/odin-emotes/eventapi/internal/protocol"
	"github.com/odin-emotes/eventapi/internal/topic"
)

// Ingress subscribes to the process-wide event wildcard and routes each
// decoded Dispatch into the fabric.
type Ingress struct {
	client      *bus.Client
	fabric      *fabric.Manager
	eventPrefix string
	logger      zerolog.Logger
}

// NewIngress builds an Ingress.
func NewIngress(client *bus.Client, f *fabric.Manager, eventPrefix string, logger zerolog.Logger) *Ingress {
	return &Ingress{client: client, fabric: f, eventPrefix: eventPrefix, logger: logger}
}

// Start installs the wildcard subscription. It returns once the
// subscription is installed; delivery happens on NATS's own callback
// goroutine per message.
func (i *Ingress) Start() error {
	_, err := i.client.Subscribe(bus.EventWildcard(i.eventPrefix), i.handle)
	return err
}

func (i *Ingress) handle(msg *nats.Msg) {
	var env protocol.Message[protocol.DispatchPayload]
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		i.logger.Warn().Err(err).Msg("eventapi: malformed dispatch payload, dropping")
		return
	}

	scope, err := topic.ScopeFromCondition(env.D.Condition)
	if err != nil {
		i.logger.Warn().Err(err).Msg("eventapi: unroutable dispatch condition, dropping")
		return
	}
	key := topic.EventTopic{Event: env.D.Type, Scope: scope}.Key()

	payload, err := json.Marshal(env.D)
	if err != nil {
		i.logger.Warn().Err(err).Msg("eventapi: re-marshal dispatch payload failed")
		return
	}
	raw := &protocol.RawMessage{Op: protocol.OpDispatch, D: payload, S: env.S, T: env.T}
	if err := i.fabric.Publish(key, raw); err != nil {
		i.logger.Warn().Err(err).Msg("eventapi: fabric publish dropped")
	}
}
