// Package fabric is the Topic Fabric and its Subscription Manager: a
// single-task-owned registry of per-topic broadcast channels, fed by the
// bus's process-wide event subscription and drained by connections
// subscribing/unsubscribing through a command queue. One goroutine's select
// loop owns the registry and drains register/unregister/broadcast channels,
// keyed by topic.Key rather than a flat client set.
package fabric

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/odin-emotes/eventapi/internal/metrics"
	"github.com/odin-emotes/eventapi/internal/protocol"
	"github.com/odin-emotes/eventapi/internal/topic"
)

// subscriberBuffer is the bounded capacity of each subscriber's channel.
// A subscriber that can't keep up is dropped rather than blocking the
// fabric; the connection owning the dropped receiver then self-closes
// with SlowConsumer.
const subscriberBuffer = 16

// Receiver is the channel a connection reads dispatches from. It is closed
// by the fabric when the subscriber lags or when Unsubscribe is called.
type Receiver <-chan *protocol.RawMessage

type topicEntry struct {
	subs map[uint64]chan *protocol.RawMessage
}

type subscribeCmd struct {
	key   topic.Key
	reply chan subscribeResult
}

type subscribeResult struct {
	id uint64
	ch chan *protocol.RawMessage
}

type unsubscribeCmd struct {
	key topic.Key
	id  uint64
}

type publishCmd struct {
	key topic.Key
	msg *protocol.RawMessage
}

// Stats is a point-in-time snapshot of the fabric.
type Stats struct {
	LiveTopics  int
	Subscribers int
}

type statsCmd struct {
	reply chan Stats
}

// Manager owns the topic registry. All mutation happens on the goroutine
// running Run; everything else talks to it through channels.
type Manager struct {
	cmds    chan any
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewManager builds a Manager. Call Run in its own goroutine before using it.
func NewManager(m *metrics.Metrics, logger zerolog.Logger) *Manager {
	return &Manager{
		cmds:    make(chan any, 1024),
		metrics: m,
		logger:  logger,
	}
}

// Run is the manager's single owning loop. It exits when ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	topics := make(map[topic.Key]*topicEntry)
	var nextID uint64

	for {
		select {
		case <-ctx.Done():
			for _, e := range topics {
				for _, ch := range e.subs {
					close(ch)
				}
			}
			return

		case raw := <-m.cmds:
			switch cmd := raw.(type) {
			case subscribeCmd:
				nextID++
				e, ok := topics[cmd.key]
				if !ok {
					e = &topicEntry{subs: make(map[uint64]chan *protocol.RawMessage)}
					topics[cmd.key] = e
					m.metrics.TopicsLive.Set(float64(len(topics)))
				}
				ch := make(chan *protocol.RawMessage, subscriberBuffer)
				e.subs[nextID] = ch
				cmd.reply <- subscribeResult{id: nextID, ch: ch}

			case unsubscribeCmd:
				if e, ok := topics[cmd.key]; ok {
					if ch, ok := e.subs[cmd.id]; ok {
						close(ch)
						delete(e.subs, cmd.id)
					}
					if len(e.subs) == 0 {
						delete(topics, cmd.key)
						m.metrics.TopicsLive.Set(float64(len(topics)))
					}
				}

			case publishCmd:
				e, ok := topics[cmd.key]
				if !ok {
					m.metrics.TopicFabricHits.WithLabelValues("miss").Inc()
					continue
				}
				m.metrics.TopicFabricHits.WithLabelValues("hit").Inc()
				for id, ch := range e.subs {
					select {
					case ch <- cmd.msg:
					default:
						m.metrics.DispatchesLagged.WithLabelValues(string(cmd.key.Event)).Inc()
						close(ch)
						delete(e.subs, id)
					}
				}
				if len(e.subs) == 0 {
					delete(topics, cmd.key)
					m.metrics.TopicsLive.Set(float64(len(topics)))
				}

			case statsCmd:
				n := 0
				for _, e := range topics {
					n += len(e.subs)
				}
				cmd.reply <- Stats{LiveTopics: len(topics), Subscribers: n}
			}
		}
	}
}

// Subscribe registers interest in key and returns a receiver plus an
// unsubscribe function. Blocks until the manager's loop accepts the
// request or ctx is canceled.
func (m *Manager) Subscribe(ctx context.Context, key topic.Key) (Receiver, func(), error) {
	reply := make(chan subscribeResult, 1)
	select {
	case m.cmds <- subscribeCmd{key: key, reply: reply}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	select {
	case res := <-reply:
		unsub := func() {
			select {
			case m.cmds <- unsubscribeCmd{key: key, id: res.id}:
			default:
			}
		}
		return res.ch, unsub, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Publish routes msg to every subscriber of key. Called from the bus
// ingress path; non-blocking from the caller's perspective as long as the
// manager's command queue has room.
func (m *Manager) Publish(key topic.Key, msg *protocol.RawMessage) error {
	select {
	case m.cmds <- publishCmd{key: key, msg: msg}:
		return nil
	default:
		return fmt.Errorf("fabric: command queue full, dropping dispatch for %v", key)
	}
}

// Stats returns a snapshot of the registry.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case m.cmds <- statsCmd{reply: reply}:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}
