// Package collab documents the three interface boundaries external
// collaborators (GraphQL/REST admin surface, billing webhooks, the
// image-processor gRPC integration, the search-index mirror, the Discord
// bot) call through. None of those collaborators are implemented here;
// this package only pins the contracts so a future HTTP/GraphQL layer has
// something concrete to depend on.
package collab

import (
	"context"

	"github.com/odin-emotes/eventapi/internal/bus"
	"github.com/odin-emotes/eventapi/internal/graph"
	"github.com/odin-emotes/eventapi/internal/purge"
)

// Publisher is what a collaborator calls to emit an event onto the bus
// under the documented subject grammar. internal/bus.Client satisfies this
// directly.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// GraphReader is what a collaborator calls to answer "what does this user
// currently have". Event filtering, CDN object visibility, and billing all
// depend on it. internal/graph.Traverser satisfies this directly
// (TraverseFilter's extra predicate unused here).
type GraphReader interface {
	Traverse(ctx context.Context, dir graph.Direction, seeds []graph.Kind) ([]graph.Edge, error)
}

// PurgeRequester is what a collaborator calls to evict CDN paths after a
// mutation (e.g. a re-uploaded emote). internal/purge.Producer satisfies
// this directly.
type PurgeRequester interface {
	Request(files []string) error
}

var (
	_ Publisher      = (*bus.Client)(nil)
	_ GraphReader    = (*graph.Traverser)(nil)
	_ PurgeRequester = (*purge.Producer)(nil)
)
