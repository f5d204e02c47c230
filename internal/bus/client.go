// Package bus wraps the NATS connection shared by every component: core
// pub/sub for best-effort event fan-out, and JetStream durable pull
// consumers for the CDN purge protocol's at-least-once delivery.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/odin-emotes/eventapi/internal/metrics"
)

// Config configures the shared NATS connection.
type Config struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	EventPrefix    string
	PurgePrefix    string
	PodID          string
	JSStreamMaxAge time.Duration
}

// Client is the process-wide bus handle.
type Client struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	metrics *metrics.Metrics
	logger  zerolog.Logger

	cfg Config

	subsMu sync.Mutex
	subs   map[string]*nats.Subscription
}

// Connect dials NATS and installs connection-lifecycle handlers that feed
// the shared metric set.
func Connect(cfg Config, m *metrics.Metrics, logger zerolog.Logger) (*Client, error) {
	c := &Client{metrics: m, logger: logger, cfg: cfg, subs: make(map[string]*nats.Subscription)}

	opts := []nats.Option{
		nats.Name("eventapi"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ConnectHandler(c.onConnect),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ErrorHandler(c.onError),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	c.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}
	c.js = js

	return c, nil
}

func (c *Client) onConnect(conn *nats.Conn) {
	c.logger.Info().Str("url", conn.ConnectedUrl()).Msg("bus connected")
}

func (c *Client) onDisconnect(conn *nats.Conn, err error) {
	if err != nil {
		c.logger.Warn().Err(err).Msg("bus disconnected")
		c.metrics.BusErrors.WithLabelValues("disconnect").Inc()
	} else {
		c.logger.Info().Msg("bus disconnected")
	}
}

func (c *Client) onReconnect(conn *nats.Conn) {
	c.logger.Info().Str("url", conn.ConnectedUrl()).Msg("bus reconnected")
	c.metrics.BusReconnects.Inc()
}

func (c *Client) onError(conn *nats.Conn, sub *nats.Subscription, err error) {
	c.logger.Error().Err(err).Msg("bus error")
	c.metrics.BusErrors.WithLabelValues("async").Inc()
}

// IsConnected reports whether the underlying connection is up; used by the
// health/capacity surface.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Publish sends a raw payload to subject, best-effort.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		c.metrics.BusErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	c.metrics.BusMessages.WithLabelValues(subject).Inc()
	return nil
}

// PublishJSON marshals v and publishes it to subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal for %s: %w", subject, err)
	}
	return c.Publish(subject, data)
}

// Subscribe installs a core NATS subscription, best-effort with no replay
// on reconnect — the fan-out fabric's ingress path.
func (c *Client) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		c.metrics.BusMessages.WithLabelValues(subject).Inc()
		handler(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}

	c.subsMu.Lock()
	c.subs[subject] = sub
	c.subsMu.Unlock()
	return sub, nil
}

// Unsubscribe tears down a subscription previously installed by Subscribe.
func (c *Client) Unsubscribe(subject string) error {
	c.subsMu.Lock()
	sub, ok := c.subs[subject]
	delete(c.subs, subject)
	c.subsMu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// EnsureStream idempotently creates (or updates the config of) a JetStream
// stream, creating it if missing.
func (c *Client) EnsureStream(name string, subjects []string, maxAge time.Duration) error {
	_, err := c.js.StreamInfo(name)
	cfg := &nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		MaxAge:    maxAge,
		Retention: nats.InterestPolicy,
		Storage:   nats.FileStorage,
	}
	if err != nil {
		_, err = c.js.AddStream(cfg)
		if err != nil {
			return fmt.Errorf("bus: add stream %s: %w", name, err)
		}
		return nil
	}
	_, err = c.js.UpdateStream(cfg)
	if err != nil {
		return fmt.Errorf("bus: update stream %s: %w", name, err)
	}
	return nil
}

// PullConsumer creates (or binds to) a durable pull consumer on stream,
// filtered to filterSubject, with the given ack policy (nats.AckExplicit
// for per-message ack/nak, nats.AckAll where acking a message implicitly
// acks its predecessors) and up to maxDeliver redelivery attempts.
func (c *Client) PullConsumer(stream, durable, filterSubject string, ackPolicy nats.SubOpt, maxDeliver int) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(filterSubject, durable,
		nats.BindStream(stream),
		nats.ManualAck(),
		ackPolicy,
		nats.MaxDeliver(maxDeliver),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: pull consumer %s/%s: %w", stream, durable, err)
	}
	return sub, nil
}

// FetchLoop runs fn over messages pulled from sub until ctx is canceled.
// Intended to be launched as its own goroutine per pull consumer.
func (c *Client) FetchLoop(ctx context.Context, sub *nats.Subscription, batch int, fn func(*nats.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := sub.Fetch(batch, nats.MaxWait(2*time.Second))
		if err != nil {
			if err != nats.ErrTimeout && err != context.DeadlineExceeded {
				c.metrics.BusErrors.WithLabelValues("fetch").Inc()
			}
			continue
		}
		for _, msg := range msgs {
			fn(msg)
		}
	}
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() error {
	c.subsMu.Lock()
	for subject, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn().Err(err).Str("subject", subject).Msg("bus: unsubscribe on close failed")
		}
	}
	c.subs = map[string]*nats.Subscription{}
	c.subsMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}
