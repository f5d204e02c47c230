package graph

import (
	"context"
	"testing"
)

// TestTraverseUserToRoleToCosmetics walks User -> Role -> {2 Paints,
// 1 Badge}: four edges total, no re-expansion.
func TestTraverseUserToRoleToCosmetics(t *testing.T) {
	user := NewKind(KindUser, "u1")
	role := NewKind(KindRole, "r1")
	paint1 := NewKind(KindPaint, "p1")
	paint2 := NewKind(KindPaint, "p2")
	badge := NewKind(KindBadge, "b1")

	edgesByFrom := map[Kind][]Edge{
		user: {{From: user, To: role}},
		role: {
			{From: role, To: paint1},
			{From: role, To: paint2},
			{From: role, To: badge},
		},
	}

	loaded := 0
	outbound := func(_ context.Context, keys []Kind) ([]Edge, error) {
		loaded++
		var out []Edge
		for _, k := range keys {
			out = append(out, edgesByFrom[k]...)
		}
		return out, nil
	}

	tr := NewTraverser(Loaders{Outbound: outbound}, nil)
	edges, err := tr.Traverse(context.Background(), Outbound, []Kind{user})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(edges) != 4 {
		t.Fatalf("expected 4 edges, got %d", len(edges))
	}
	if loaded != 2 {
		t.Fatalf("expected 2 batch loads (user->role, role->leaves), got %d", loaded)
	}
}

// TestTraverseCycleSafe ensures a fixture cycle doesn't cause
// non-termination or re-expansion.
func TestTraverseCycleSafe(t *testing.T) {
	a := NewKind(KindUser, "a")
	b := NewKind(KindRole, "b")

	edgesByFrom := map[Kind][]Edge{
		a: {{From: a, To: b}},
		b: {{From: b, To: a}}, // cycle back to a
	}

	var loadCalls [][]Kind
	outbound := func(_ context.Context, keys []Kind) ([]Edge, error) {
		loadCalls = append(loadCalls, append([]Kind(nil), keys...))
		var out []Edge
		for _, k := range keys {
			out = append(out, edgesByFrom[k]...)
		}
		return out, nil
	}

	tr := NewTraverser(Loaders{Outbound: outbound}, nil)
	edges, err := tr.Traverse(context.Background(), Outbound, []Kind{a})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	// a->b, b->a: the second edge's successor (a) is already visited, so
	// the traversal must terminate after exactly 2 rounds with 2 edges.
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	if len(loadCalls) != 2 {
		t.Fatalf("expected traversal to terminate after 2 batch loads, got %d", len(loadCalls))
	}
}

// TestTraverseTerminalKindsDontExpand checks has_next: Paint/Badge never
// produce a further load call even if edges exist from them in the fixture.
func TestTraverseTerminalKindsDontExpand(t *testing.T) {
	paint := NewKind(KindPaint, "p1")
	bogus := NewKind(KindRole, "ghost")

	called := false
	outbound := func(_ context.Context, keys []Kind) ([]Edge, error) {
		called = true
		return []Edge{{From: paint, To: bogus}}, nil
	}

	tr := NewTraverser(Loaders{Outbound: outbound}, nil)
	edges, err := tr.Traverse(context.Background(), Outbound, []Kind{paint})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if called {
		t.Fatal("expected no load call for a terminal-outbound seed")
	}
	if len(edges) != 0 {
		t.Fatalf("expected no edges, got %d", len(edges))
	}
}
