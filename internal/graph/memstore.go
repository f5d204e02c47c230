package graph

import (
	"context"
	"sync"
)

// MemStore is an in-process entitlement edge store. The durable backing
// store and the CRUD surface for the objects these edges reference belong
// to collaborator services; MemStore gives the loaders a concrete backing
// implementation to wire into internal/server without a database
// driver nothing else here needs.
type MemStore struct {
	mu    sync.RWMutex
	edges []Edge
}

// NewMemStore builds an empty store.
func NewMemStore() *MemStore { return &MemStore{} }

// Put appends an edge. Safe for concurrent use.
func (s *MemStore) Put(e Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, e)
}

// Loaders returns the Loaders pair this store backs, matching the batched
// fetch-by-keys contract internal/graph.Traverser expects.
func (s *MemStore) Loaders() Loaders {
	return Loaders{
		Inbound:  s.loadInbound,
		Outbound: s.loadOutbound,
	}
}

func (s *MemStore) loadOutbound(_ context.Context, keys []Kind) ([]Edge, error) {
	want := toSet(keys)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Edge
	for _, e := range s.edges {
		if _, ok := want[e.From]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) loadInbound(_ context.Context, keys []Kind) ([]Edge, error) {
	want := toSet(keys)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Edge
	for _, e := range s.edges {
		if _, ok := want[e.To]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func toSet(keys []Kind) map[Kind]struct{} {
	set := make(map[Kind]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
