package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/odin-emotes/eventapi/internal/graph"
	"github.com/odin-emotes/eventapi/internal/mutex"
)

// entitlementEdge is the wire shape of one edge in the GET /entitlements
// response.
type entitlementEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// grantRequest is the wire shape for POST /entitlements/grant: attach a new
// edge under the root user's write lock.
type grantRequest struct {
	UserID   string `json:"user_id"`
	FromType string `json:"from_type"`
	FromID   string `json:"from_id"`
	ToType   string `json:"to_type"`
	ToID     string `json:"to_id"`
}

// handleEntitlements runs a read-only BFS from a seed Kind, rate-limited
// per remote address.
func (s *Server) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := s.rateLimiter.Allow(ctx, "entitlements_read", r.RemoteAddr, 20, 1, time.Second)
	if err != nil {
		s.logger.Warn().Err(err).Msg("server: entitlements rate limit check failed")
	} else if !res.Allowed {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	q := r.URL.Query()
	seed := graph.NewKind(q.Get("kind_type"), q.Get("kind_id"))
	dir := graph.Outbound
	if q.Get("dir") == "inbound" {
		dir = graph.Inbound
	}

	edges, err := s.graphTraverser.Traverse(ctx, dir, []graph.Kind{seed})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	out := make([]entitlementEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, entitlementEdge{From: e.From.String(), To: e.To.String()})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleEntitlementGrant inserts a new edge under the root user's
// distributed write lock, then invalidates nothing else — readers observe
// the new edge on their next traversal.
func (s *Server) handleEntitlementGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	res, err := s.rateLimiter.Allow(ctx, "entitlements_write", r.RemoteAddr, 5, 1, time.Second)
	if err != nil {
		s.logger.Warn().Err(err).Msg("server: entitlements write rate limit check failed")
	} else if !res.Allowed {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	edge := graph.Edge{
		From: graph.NewKind(req.FromType, req.FromID),
		To:   graph.NewKind(req.ToType, req.ToID),
	}

	err = graph.WriteUnderUserLock(ctx, s.locker, req.UserID, func(ctx context.Context) error {
		s.graphStore.Put(edge)
		return nil
	})
	if err != nil {
		if errors.Is(err, mutex.ErrLost) {
			s.metrics.MutexLost.Inc()
		} else {
			s.metrics.MutexAcquireFailures.Inc()
		}
		s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("server: entitlement grant failed")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
