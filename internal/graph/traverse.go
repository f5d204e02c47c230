package graph

import (
	"context"
	"fmt"

	"github.com/odin-emotes/eventapi/internal/metrics"
)

// LoaderFunc batch-fetches every edge whose From (outbound) or To (inbound)
// key is in keys. Any store-backed batch fetch with that grouping contract
// works; this package doesn't assume a particular database.
type LoaderFunc func(ctx context.Context, keys []Kind) ([]Edge, error)

// Loaders bundles the inbound and outbound batched fetchers a Traverser
// needs. Keeping them distinct (rather than one fetch-with-direction-arg
// func) preserves direction-specific index usage in the backing store.
type Loaders struct {
	Inbound  LoaderFunc
	Outbound LoaderFunc
}

// Filter decides whether a successor key should be expanded further. The
// zero-arg Traverse always accepts; TraverseFilter lets a caller narrow the
// frontier (e.g. only entitlements not already known to a session).
type Filter func(Kind) bool

// Traverser runs bidirectional BFS over a Loaders pair.
type Traverser struct {
	loaders Loaders
	metrics *metrics.Metrics
}

// NewTraverser builds a Traverser over loaders.
func NewTraverser(loaders Loaders, m *metrics.Metrics) *Traverser {
	return &Traverser{loaders: loaders, metrics: m}
}

// Traverse runs an unfiltered BFS from seeds in direction dir, visiting
// each Kind at most once.
func (t *Traverser) Traverse(ctx context.Context, dir Direction, seeds []Kind) ([]Edge, error) {
	return t.TraverseFilter(ctx, dir, seeds, func(Kind) bool { return true })
}

// TraverseFilter is Traverse with an additional user-supplied predicate a
// successor must satisfy to be expanded, composed with the built-in
// visited-set and has_next checks (never replacing them).
func (t *Traverser) TraverseFilter(ctx context.Context, dir Direction, seeds []Kind, userFilter Filter) ([]Edge, error) {
	load := t.loaders.Outbound
	if dir == Inbound {
		load = t.loaders.Inbound
	}
	if load == nil {
		return nil, fmt.Errorf("graph: no loader configured for direction %v", dir)
	}

	visited := make(map[Kind]struct{}, len(seeds))
	var frontier []Kind
	for _, k := range seeds {
		if _, ok := visited[k]; ok {
			continue
		}
		if k.HasNext(dir) {
			visited[k] = struct{}{}
			frontier = append(frontier, k)
		}
	}

	var result []Edge
	for len(frontier) > 0 {
		edges, err := load(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("graph: loader failure: %w", err)
		}

		next := frontier[:0:0]
		for _, e := range edges {
			result = append(result, e)
			succ := e.Next(dir)
			if _, seen := visited[succ]; seen {
				continue
			}
			if !succ.HasNext(dir) || !userFilter(succ) {
				continue
			}
			visited[succ] = struct{}{}
			next = append(next, succ)
		}
		frontier = next
	}

	if t.metrics != nil {
		t.metrics.GraphTraversals.Inc()
		t.metrics.GraphEdgesVisited.Add(float64(len(result)))
	}
	return result, nil
}

// GroupByFrom groups edges by their From key. Supplied for store-layer
// loaders that fetch flat and need to bucket by requested key before
// returning to a batcher.
func GroupByFrom(edges []Edge) map[Kind][]Edge {
	out := make(map[Kind][]Edge)
	for _, e := range edges {
		out[e.From] = append(out[e.From], e)
	}
	return out
}

// GroupByTo groups edges by their To key, the inbound-loader equivalent.
func GroupByTo(edges []Edge) map[Kind][]Edge {
	out := make(map[Kind][]Edge)
	for _, e := range edges {
		out[e.To] = append(out[e.To], e)
	}
	return out
}
