// Package metrics is the process-wide Prometheus registry: one
// Prometheus-backed set of instruments for connections, dispatch, cache,
// purge, and system resource sampling.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the single instrument set shared by every component.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal    prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionDuration  prometheus.Histogram
	ConnectionsRejected *prometheus.CounterVec

	DispatchesSent   prometheus.Counter
	DispatchesLagged *prometheus.CounterVec
	CloseReasons     *prometheus.CounterVec

	TopicsLive      prometheus.Gauge
	TopicFabricHits *prometheus.CounterVec

	BusMessages   *prometheus.CounterVec
	BusErrors     *prometheus.CounterVec
	BusReconnects prometheus.Counter

	PurgeRequests  prometheus.Counter
	PurgeResponses prometheus.Counter
	PurgeAckErrors prometheus.Counter

	CDNHits   prometheus.Counter
	CDNMisses prometheus.Counter
	CDNBytes  prometheus.Gauge

	GraphTraversals   prometheus.Counter
	GraphEdgesVisited prometheus.Counter

	MutexAcquireFailures prometheus.Counter
	MutexLost            prometheus.Counter

	GoroutinesCount prometheus.Gauge
	MemoryUsage     prometheus.Gauge
	CPUUsage        prometheus.Gauge
}

// New registers and returns the metric set against a fresh registry. Each
// call gets its own prometheus.Registry rather than the global
// DefaultRegisterer so that tests (and any future multi-instance embedding)
// can call New more than once per process without a duplicate-registration
// panic; production code registers exactly one Metrics via server.New.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return newWith(factory, reg)
}

// Registry returns the underlying prometheus.Registerer, for wiring
// /metrics via promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler for this instance's registry,
// using promhttp.HandlerFor the per-instance registry rather than
// promhttp.Handler() over the default registerer (see New's doc comment).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func newWith(factory promauto.Factory, reg *prometheus.Registry) *Metrics {
	return &Metrics{
		registry: reg,
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventapi_connections_total",
			Help: "Total number of connections accepted.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventapi_connections_active",
			Help: "Number of currently active connections.",
		}),
		ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventapi_connection_duration_seconds",
			Help:    "Duration of connections.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		ConnectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapi_connections_rejected_total",
			Help: "Total number of connections rejected by admission control, by reason.",
		}, []string{"reason"}),

		DispatchesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventapi_dispatches_sent_total",
			Help: "Total number of Dispatch frames written to clients.",
		}),
		DispatchesLagged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapi_dispatches_lagged_total",
			Help: "Total number of times a subscriber's broadcast channel lagged.",
		}, []string{"event_type"}),
		CloseReasons: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapi_connection_closes_total",
			Help: "Total number of connection closes, by close code.",
		}, []string{"code"}),

		TopicsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventapi_topics_live",
			Help: "Number of live topic fan-out entries in the registry.",
		}),
		TopicFabricHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapi_topic_fabric_total",
			Help: "Ingress messages routed by the topic fabric, by hit/miss.",
		}, []string{"result"}),

		BusMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapi_bus_messages_total",
			Help: "Bus messages processed, by subject.",
		}, []string{"subject"}),
		BusErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapi_bus_errors_total",
			Help: "Bus errors, by kind.",
		}, []string{"kind"}),
		BusReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventapi_bus_reconnects_total",
			Help: "Total number of bus reconnects.",
		}),

		PurgeRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventapi_purge_requests_total",
			Help: "Total number of purge requests published.",
		}),
		PurgeResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventapi_purge_responses_total",
			Help: "Total number of purge responses processed.",
		}),
		PurgeAckErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventapi_purge_ack_errors_total",
			Help: "Total number of purge response ack failures (nak'd).",
		}),

		CDNHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdn_cache_hits_total",
			Help: "Total number of CDN cache hits.",
		}),
		CDNMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdn_cache_misses_total",
			Help: "Total number of CDN cache misses.",
		}),
		CDNBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cdn_cache_bytes",
			Help: "Approximate bytes currently held in the CDN cache.",
		}),

		GraphTraversals: factory.NewCounter(prometheus.CounterOpts{
			Name: "entitlement_graph_traversals_total",
			Help: "Total number of entitlement graph traversals run.",
		}),
		GraphEdgesVisited: factory.NewCounter(prometheus.CounterOpts{
			Name: "entitlement_graph_edges_visited_total",
			Help: "Total number of entitlement edges visited across traversals.",
		}),

		MutexAcquireFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "distributed_mutex_acquire_failures_total",
			Help: "Total number of distributed mutex acquire timeouts.",
		}),
		MutexLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "distributed_mutex_lost_total",
			Help: "Total number of distributed mutex leases lost mid-operation.",
		}),

		GoroutinesCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventapi_goroutines",
			Help: "Number of goroutines.",
		}),
		MemoryUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventapi_memory_usage_bytes",
			Help: "Go heap bytes allocated (runtime MemStats.HeapAlloc).",
		}),
		CPUUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventapi_cpu_usage_percent",
			Help: "Process CPU usage percentage.",
		}),
	}
}

// RecordConnectionDuration is a small convenience wrapper kept for call-site
// readability at connection close.
func (m *Metrics) RecordConnectionDuration(start time.Time) {
	m.ConnectionDuration.Observe(time.Since(start).Seconds())
}
