// Package health is the small HTTP listener load balancers scrape: /health
// reflects bus connectivity, /capacity reflects admission headroom
// including the soft connection_target drain signal.
package health

import (
	"net/http"
)

// BusChecker reports whether the bus connection is currently up.
type BusChecker interface {
	IsConnected() bool
}

// CapacityChecker reports admission headroom.
type CapacityChecker interface {
	ActiveConnections() int64
	AtTarget() bool
}

// Config fixes the knobs the capacity handler needs beyond the two checker
// interfaces.
type Config struct {
	ConnectionLimit int // 0 means unconfigured; /capacity never hard-fails on count alone
	ServerName      string
}

// Handler serves /health and /capacity.
type Handler struct {
	bus      BusChecker
	capacity CapacityChecker
	cfg      Config
}

// NewHandler builds a Handler.
func NewHandler(bus BusChecker, capacity CapacityChecker, cfg Config) *Handler {
	return &Handler{bus: bus, capacity: capacity, cfg: cfg}
}

// Mux returns an http.ServeMux with /health and /capacity registered.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.serveHealth)
	mux.HandleFunc("/capacity", h.serveCapacity)
	return mux
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", h.cfg.ServerName)
	if !h.bus.IsConnected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// serveCapacity returns 503 iff (connection_limit configured and
// active_connections >= limit) OR the bus isn't connected. The soft
// connection_target causes an earlier 503 so the load balancer can drain
// gracefully.
func (h *Handler) serveCapacity(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", h.cfg.ServerName)
	if !h.bus.IsConnected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if h.cfg.ConnectionLimit > 0 && h.capacity.ActiveConnections() >= int64(h.cfg.ConnectionLimit) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if h.capacity.AtTarget() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
