package eventapi

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/odin-emotes/eventapi/internal/bus"
	"github.com/odin-emotes/eventapi/internal/protocol"
	"github.com/odin-emotes/eventapi/internal/topic"
)

// Publisher is the producer side of the dispatch control flow: external
// collaborators (the GraphQL/REST surface, admin tooling) call Publish to
// emit a Dispatch onto the bus under the documented subject grammar. A
// process-local monotonic sequence counter stamps the outer envelope.
type Publisher struct {
	client      *bus.Client
	eventPrefix string
	seq         uint64
}

// NewPublisher builds a Publisher.
func NewPublisher(client *bus.Client, eventPrefix string) *Publisher {
	return &Publisher{client: client, eventPrefix: eventPrefix}
}

// Publish encodes payload as a Dispatch envelope and publishes it to
// "<prefix>.<event-type>.<scope-hash>", omitting the scope-hash segment
// when payload.Condition is empty.
func (p *Publisher) Publish(payload protocol.DispatchPayload) error {
	if payload.Hash == 0 {
		payload.Hash = dispatchHash(payload.Body)
	}

	scopeHash := topic.ConditionHash(payload.Condition)
	subject := bus.EventSubject(p.eventPrefix, string(payload.Type), scopeHash)

	env := protocol.Message[protocol.DispatchPayload]{
		Op: protocol.OpDispatch,
		D:  payload,
		S:  atomic.AddUint64(&p.seq, 1),
		T:  time.Now().UnixMilli(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("eventapi: marshal dispatch: %w", err)
	}
	return p.client.Publish(subject, data)
}

// dispatchHash derives Dispatch.hash from the changed object's identity and
// contents: an FNV-1a digest over the object id, the kind byte, and the
// xxhash64 of the object's canonical JSON encoding. This is a local
// integrity/dedup check, not a wire-interoperable key like topic.Scope.Hash
// or topic.ConditionHash, so it never needs to agree with another process's
// computation of the same object.
func dispatchHash(body protocol.ChangeMap) uint32 {
	objectJSON, err := json.Marshal(body.Object)
	if err != nil {
		objectJSON = nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(body.ID))
	if len(body.Kind) > 0 {
		_, _ = h.Write([]byte{body.Kind[0]})
	}
	var objSum [8]byte
	xsum := xxhash.Sum64(objectJSON)
	for i := range objSum {
		objSum[i] = byte(xsum >> (8 * i))
	}
	_, _ = h.Write(objSum[:])
	return h.Sum32()
}
