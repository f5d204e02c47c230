// Package purge implements the two-subject CDN purge protocol: the
// API-side producer plus ack-worker, and the edge-side durable pull
// consumer that evicts from the local cache before responding.
package purge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/odin-emotes/eventapi/internal/bus"
	"github.com/odin-emotes/eventapi/internal/cdn/cache"
	"github.com/odin-emotes/eventapi/internal/metrics"
)

// Request is the wire payload on both the request and response subjects;
// an edge's response echoes the request it corresponds to.
type Request struct {
	Files []string `json:"files"`
}

const streamName = "CDN_PURGE"
const ackBackoff = 2 * time.Second
const maxDeliver = 10

// StreamConfig describes the purge stream: interest retention, 24h max age.
func StreamConfig(purgePrefix string) (name string, subjects []string, maxAge time.Duration) {
	return streamName, []string{purgePrefix + ".request", purgePrefix + ".response"}, 24 * time.Hour
}

// Invalidator is the third-party cache invalidator (the edge proxy in
// front of the origin) the producer's ack-worker calls once it observes an
// edge's response. An external collaborator, modeled at its interface
// boundary only.
type Invalidator interface {
	Invalidate(ctx context.Context, files []string) error
}

// Producer is the API-side half: Publish sends purge requests, and a
// background ack-worker consumes responses and forwards them to an
// Invalidator.
type Producer struct {
	client      *bus.Client
	purgePrefix string
	podID       string
	invalidator Invalidator
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewProducer builds a Producer.
func NewProducer(client *bus.Client, purgePrefix, podID string, inv Invalidator, m *metrics.Metrics, logger zerolog.Logger) *Producer {
	return &Producer{client: client, purgePrefix: purgePrefix, podID: podID, invalidator: inv, metrics: m, logger: logger}
}

// Request publishes a purge request for files to every edge.
func (p *Producer) Request(files []string) error {
	if err := p.client.PublishJSON(bus.PurgeRequestSubject(p.purgePrefix), Request{Files: files}); err != nil {
		return fmt.Errorf("purge: publish request: %w", err)
	}
	p.metrics.PurgeRequests.Inc()
	return nil
}

// RunAckWorker runs the per-pod ack consumer: a durable pull consumer on
// the response subject that forwards each response to the Invalidator,
// acking on success and nak-ing with a back-off delay on failure.
func (p *Producer) RunAckWorker(ctx context.Context) error {
	sub, err := p.client.PullConsumer(streamName, "ack-"+p.podID, bus.PurgeResponseSubject(p.purgePrefix), nats.AckExplicit(), maxDeliver)
	if err != nil {
		return fmt.Errorf("purge: ack consumer: %w", err)
	}

	p.client.FetchLoop(ctx, sub, 32, func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			p.logger.Warn().Err(err).Msg("purge: malformed response payload")
			_ = msg.Nak()
			return
		}

		if err := p.invalidator.Invalidate(ctx, req.Files); err != nil {
			p.logger.Warn().Err(err).Strs("files", req.Files).Msg("purge: invalidator failed, nak'ing")
			p.metrics.PurgeAckErrors.Inc()
			_ = msg.NakWithDelay(ackBackoff)
			return
		}

		if err := msg.Ack(); err != nil {
			p.logger.Warn().Err(err).Msg("purge: ack failed")
			return
		}
		p.metrics.PurgeResponses.Inc()
	})
	return nil
}

// Consumer is the edge-side half: a durable pull consumer named after this
// pod that removes purged files from the local cache, then republishes the
// same payload to the response subject.
type Consumer struct {
	client      *bus.Client
	cache       *cache.Cache
	purgePrefix string
	podID       string
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewConsumer builds a Consumer.
func NewConsumer(client *bus.Client, c *cache.Cache, purgePrefix, podID string, m *metrics.Metrics, logger zerolog.Logger) *Consumer {
	return &Consumer{client: client, cache: c, purgePrefix: purgePrefix, podID: podID, metrics: m, logger: logger}
}

// Run drives the edge's purge consumer until ctx is canceled. Ack policy
// is all: acking a message implicitly acks its predecessors, tolerable
// here because a missed purge is a cache-staleness bug, not corruption.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.client.PullConsumer(streamName, "edge-"+c.podID, bus.PurgeRequestSubject(c.purgePrefix), nats.AckAll(), maxDeliver)
	if err != nil {
		return fmt.Errorf("purge: edge consumer: %w", err)
	}

	c.client.FetchLoop(ctx, sub, 32, func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.logger.Warn().Err(err).Msg("purge: malformed request payload")
			_ = msg.Ack()
			return
		}

		// Every named file must be gone from the local cache before this
		// edge acknowledges.
		c.cache.Purge(req.Files)

		if err := msg.Ack(); err != nil {
			c.logger.Warn().Err(err).Msg("purge: ack failed")
			return
		}

		if err := c.client.PublishJSON(bus.PurgeResponseSubject(c.purgePrefix), req); err != nil {
			c.logger.Warn().Err(err).Msg("purge: publish response failed")
		}
	})
	return nil
}
