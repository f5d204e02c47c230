// Package graph implements the entitlement DAG traversal: a closed Kind
// enum with a has_next table, two batched loaders (inbound/outbound), and a
// direction-generic bidirectional BFS with a visited-set cycle guard.
package graph

import "fmt"

// Kind is the closed tagged union of entitlement graph node types.
type Kind struct {
	Type string
	ID   string
}

const (
	KindUser                          = "User"
	KindRole                          = "Role"
	KindBadge                         = "Badge"
	KindPaint                         = "Paint"
	KindEmoteSet                      = "EmoteSet"
	KindSubscriptionBenefit           = "SubscriptionBenefit"
	KindSpecialEvent                  = "SpecialEvent"
	KindSubscription                  = "Subscription"
	KindGlobalDefaultEntitlementGroup = "GlobalDefaultEntitlementGroup"
)

// NewKind builds a Kind value.
func NewKind(kindType, id string) Kind { return Kind{Type: kindType, ID: id} }

func (k Kind) String() string { return fmt.Sprintf("%s:%s", k.Type, k.ID) }

// terminalOutbound is the set of kinds that never have outbound successors.
// A cosmetic a user owns doesn't itself own anything further down the graph.
var terminalOutbound = map[string]bool{
	KindPaint:    true,
	KindBadge:    true,
	KindEmoteSet: true,
}

// terminalInbound is the set of kinds nothing ever points at inbound — the
// roots of the graph.
var terminalInbound = map[string]bool{
	KindUser: true,
}

// HasNext reports whether k can have further successors in the given
// direction, the predicate the BFS frontier filter consults before
// expanding a node.
func (k Kind) HasNext(dir Direction) bool {
	switch dir {
	case Outbound:
		return !terminalOutbound[k.Type]
	case Inbound:
		return !terminalInbound[k.Type]
	default:
		return false
	}
}

// Direction selects which edge direction a traversal expands.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)
