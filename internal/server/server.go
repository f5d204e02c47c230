// Package server wires every core component into one running process:
// the bus client, topic fabric, admission gate, CDN cache, purge
// protocol, entitlement graph, and the WebSocket/SSE HTTP front doors.
// Assembly order is config -> logger -> metrics -> components -> HTTP mux,
// with signal-driven graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/odin-emotes/eventapi/internal/admission"
	"github.com/odin-emotes/eventapi/internal/auth"
	"github.com/odin-emotes/eventapi/internal/bus"
	"github.com/odin-emotes/eventapi/internal/cdn/cache"
	"github.com/odin-emotes/eventapi/internal/cdn/httpapi"
	"github.com/odin-emotes/eventapi/internal/config"
	"github.com/odin-emotes/eventapi/internal/connection"
	"github.com/odin-emotes/eventapi/internal/eventapi"
	"github.com/odin-emotes/eventapi/internal/fabric"
	"github.com/odin-emotes/eventapi/internal/graph"
	"github.com/odin-emotes/eventapi/internal/health"
	"github.com/odin-emotes/eventapi/internal/id"
	"github.com/odin-emotes/eventapi/internal/metrics"
	"github.com/odin-emotes/eventapi/internal/mutex"
	"github.com/odin-emotes/eventapi/internal/protocol"
	"github.com/odin-emotes/eventapi/internal/purge"
	"github.com/odin-emotes/eventapi/internal/ratelimit"
	"github.com/odin-emotes/eventapi/internal/transport/sse"
	"github.com/odin-emotes/eventapi/internal/transport/ws"
)

// Server owns every long-running component of the process.
type Server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	bus    *bus.Client
	fabric *fabric.Manager
	gate   *admission.Gate
	jwt    *auth.JWTManager
	bridge *eventapi.BridgeTable

	ingress   *eventapi.Ingress
	publisher *eventapi.Publisher

	redis       *redis.Client
	locker      *mutex.Locker
	rateLimiter *ratelimit.Limiter

	graphStore     *graph.MemStore
	graphTraverser *graph.Traverser

	cdnCache   *cache.Cache
	cdnFetcher *cache.Fetcher
	cdnHandler *httpapi.Handler

	purgeProducer *purge.Producer
	purgeConsumer *purge.Consumer

	health *health.Handler

	// runCtx is the process-wide lifecycle context set by Run. Connection
	// handlers derive from it so shutdown closes live connections instead
	// of waiting out the drain timeout on hijacked sockets.
	runCtx context.Context

	eventHTTP  *http.Server
	healthHTTP *http.Server
	cdnHTTP    *http.Server
}

// New assembles a Server from cfg. No goroutines are started yet; call Run.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	m := metrics.New()

	busClient, err := bus.Connect(bus.Config{
		URL:            cfg.NATSUrl,
		MaxReconnects:  cfg.NATSMaxReconnect,
		ReconnectWait:  cfg.NATSReconnectWait,
		EventPrefix:    cfg.EventPrefix,
		PurgePrefix:    cfg.PurgePrefix,
		PodID:          cfg.PodID,
		JSStreamMaxAge: cfg.JSStreamMaxAge,
	}, m, logger)
	if err != nil {
		return nil, fmt.Errorf("server: bus connect: %w", err)
	}

	streamName, subjects, maxAge := purge.StreamConfig(cfg.PurgePrefix)
	if err := busClient.EnsureStream(streamName, subjects, maxAge); err != nil {
		return nil, fmt.Errorf("server: ensure purge stream: %w", err)
	}

	fab := fabric.NewManager(m, logger)

	gate, err := admission.NewGate(admission.DefaultConfig(cfg.ConnectionLimit, cfg.ConnectionTarget))
	if err != nil {
		return nil, fmt.Errorf("server: admission gate: %w", err)
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, time.Hour)
	bridge := eventapi.NewBridgeTable()
	registerBridgeCommands(bridge)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	locker := mutex.NewLocker(rdb, mutex.DefaultConfig())
	limiter := ratelimit.NewLimiter(rdb)

	store := graph.NewMemStore()
	traverser := graph.NewTraverser(store.Loaders(), m)

	cdnCache, err := cache.New(cfg.CDNCacheBytes, m)
	if err != nil {
		return nil, fmt.Errorf("server: cdn cache: %w", err)
	}
	fetcher := cache.NewFetcher(cfg.CDNOriginURL, cfg.CDNServerName, cfg.CDNOriginTimeout)
	cdnHandler := httpapi.NewHandler(cdnCache, fetcher, cfg.CDNServerName, logger.With().Str("component", "cdn").Logger())

	podID := cfg.PodID
	if podID == "" {
		podID = id.New().String()
	}
	producer := purge.NewProducer(busClient, cfg.PurgePrefix, podID, purge.LogInvalidator{Logger: logger}, m, logger.With().Str("component", "purge_producer").Logger())
	consumer := purge.NewConsumer(busClient, cdnCache, cfg.PurgePrefix, podID, m, logger.With().Str("component", "purge_consumer").Logger())

	healthHandler := health.NewHandler(busClient, gate, health.Config{ConnectionLimit: cfg.ConnectionLimit, ServerName: cfg.CDNServerName})

	ingress := eventapi.NewIngress(busClient, fab, cfg.EventPrefix, logger.With().Str("component", "ingress").Logger())
	publisher := eventapi.NewPublisher(busClient, cfg.EventPrefix)

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		metrics:        m,
		bus:            busClient,
		fabric:         fab,
		gate:           gate,
		jwt:            jwtManager,
		bridge:         bridge,
		ingress:        ingress,
		publisher:      publisher,
		redis:          rdb,
		locker:         locker,
		rateLimiter:    limiter,
		graphStore:     store,
		graphTraverser: traverser,
		cdnCache:       cdnCache,
		cdnFetcher:     fetcher,
		cdnHandler:     cdnHandler,
		purgeProducer:  producer,
		purgeConsumer:  consumer,
		health:         healthHandler,
	}
	return s, nil
}

// registerBridgeCommands fills the Bridge opcode's command whitelist. Each
// command synthesizes a Dispatch whispered back to the sending connection
// alone, giving internal tooling a dispatch-shaped push without a bus
// round trip.
func registerBridgeCommands(table *eventapi.BridgeTable) {
	table.Register("cosmetic.created", func(_ context.Context, _ *auth.Claims, body any) (protocol.DispatchPayload, error) {
		return protocol.DispatchPayload{
			Type: protocol.EventCosmeticCreated,
			Body: protocol.ChangeMap{Kind: "cosmetic", Object: body},
		}, nil
	})
	table.Register("entitlement.created", func(_ context.Context, claims *auth.Claims, body any) (protocol.DispatchPayload, error) {
		if claims == nil {
			return protocol.DispatchPayload{}, fmt.Errorf("entitlement.created requires an identified connection")
		}
		return protocol.DispatchPayload{
			Type: protocol.EventEntitlementCreated,
			Body: protocol.ChangeMap{ID: claims.UserID, Kind: "entitlement", Object: body},
		}, nil
	})
}

// Run starts every background component and serves until ctx is canceled,
// then drains for up to 60s.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.runCtx = ctx

	go s.fabric.Run(ctx)
	if err := s.ingress.Start(); err != nil {
		return fmt.Errorf("server: ingress start: %w", err)
	}
	go func() {
		if err := s.purgeProducer.RunAckWorker(ctx); err != nil {
			s.logger.Error().Err(err).Msg("server: purge ack worker failed")
		}
	}()
	go func() {
		if err := s.purgeConsumer.Run(ctx); err != nil {
			s.logger.Error().Err(err).Msg("server: purge edge consumer failed")
		}
	}()
	go metrics.NewSystemSampler(s.metrics, 15*time.Second).Run(ctx)

	eventMux := http.NewServeMux()
	eventMux.HandleFunc("/ws", s.handleWebSocket)
	eventMux.HandleFunc("/sse", s.handleSSE)
	eventMux.HandleFunc("/entitlements", s.handleEntitlements)
	eventMux.HandleFunc("/entitlements/grant", s.handleEntitlementGrant)
	s.eventHTTP = &http.Server{Addr: s.cfg.Addr, Handler: eventMux}

	healthMux := s.health.Mux()
	healthMux.Handle("/metrics", s.metrics.Handler())
	s.healthHTTP = &http.Server{Addr: s.cfg.HealthAddr, Handler: healthMux}

	cdnMux := http.NewServeMux()
	cdnMux.Handle("/", s.cdnHandler)
	s.cdnHTTP = &http.Server{Addr: s.cfg.CDNAddr, Handler: cdnMux}

	errCh := make(chan error, 3)
	go func() { errCh <- runAndFilterClose(s.eventHTTP) }()
	go func() { errCh <- runAndFilterClose(s.healthHTTP) }()
	go func() { errCh <- runAndFilterClose(s.cdnHTTP) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.logger.Error().Err(err).Msg("server: an HTTP listener failed")
		}
		cancel()
	}

	return s.shutdown()
}

func runAndFilterClose(srv *http.Server) error {
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// shutdown stops accepting, lets the per-connection close paths run, then
// bounds the wait at 60s.
func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{s.eventHTTP, s.healthHTTP, s.cdnHTTP} {
		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
	}
	return s.bus.Close()
}

func (s *Server) connectionConfig(sessionID string) connection.Config {
	return connection.Config{
		SessionID:         sessionID,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		ConnectionTTL:     s.cfg.ConnectionTTL,
		SubscriptionLimit: s.cfg.SubscriptionLimit,
		RequireAuth:       s.cfg.RequireAuth,
		JWTManager:        s.jwt,
		Bridge:            s.bridge.Handle,
	}
}

// connectionContext ties a connection's lifetime to both its own request
// and the process lifecycle, so shutdown reaches hijacked sockets.
func (s *Server) connectionContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	if s.runCtx != nil {
		stop := context.AfterFunc(s.runCtx, cancel)
		return ctx, func() { stop(); cancel() }
	}
	return ctx, cancel
}

func (s *Server) admitOrReject(w http.ResponseWriter, r *http.Request) (*admission.Ticket, bool) {
	ticket, err := s.gate.Admit(r.RemoteAddr)
	if err != nil {
		s.metrics.ConnectionsRejected.WithLabelValues(err.Error()).Inc()
		http.Error(w, "connection limit exceeded", http.StatusServiceUnavailable)
		return nil, false
	}
	return ticket, true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket, ok := s.admitOrReject(w, r)
	if !ok {
		return
	}
	defer ticket.Release()

	conn, err := ws.Upgrade(w, r)
	if err != nil {
		s.logger.Warn().Err(err).Msg("server: ws upgrade failed")
		return
	}

	ctx, cancel := s.connectionContext(r)
	defer cancel()

	sessionID := id.New().String()
	c := connection.New(s.connectionConfig(sessionID), conn, s.fabric, s.metrics, s.logger)
	if err := c.Run(ctx); err != nil {
		s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("server: ws connection ended")
	}
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	ticket, ok := s.admitOrReject(w, r)
	if !ok {
		return
	}
	defer ticket.Release()

	conn, err := sse.New(w, r)
	if err != nil {
		s.logger.Warn().Err(err).Msg("server: sse setup failed")
		return
	}

	ctx, cancel := s.connectionContext(r)
	defer cancel()

	sessionID := id.New().String()
	cfg := s.connectionConfig(sessionID)
	cfg.InitialSubscriptions = sseSubscriptions(r)
	c := connection.New(cfg, conn, s.fabric, s.metrics, s.logger)
	if err := c.Run(ctx); err != nil {
		s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("server: sse connection ended")
	}
}

// sseSubscriptions parses the subscriptions an SSE client declares in its
// URL, since it has no channel to send Subscribe frames on. Each repeated
// "subscribe" parameter is "<event-type>" or "<event-type>:<object-id>".
func sseSubscriptions(r *http.Request) []protocol.SubscribePayload {
	var subs []protocol.SubscribePayload
	for _, raw := range r.URL.Query()["subscribe"] {
		eventType, objectID, _ := strings.Cut(raw, ":")
		if eventType == "" {
			continue
		}
		sub := protocol.SubscribePayload{Type: protocol.EventType(eventType)}
		if objectID != "" {
			sub.Condition = []protocol.Condition{{Key: "object_id", Value: objectID}}
		}
		subs = append(subs, sub)
	}
	return subs
}
