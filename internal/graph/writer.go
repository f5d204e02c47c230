package graph

import (
	"context"
	"fmt"

	"github.com/odin-emotes/eventapi/internal/mutex"
)

// MutationFunc performs one entitlement-graph write (insert/remove an edge)
// under the caller's own transaction semantics.
type MutationFunc func(ctx context.Context) error

// WriteUnderUserLock runs fn holding the distributed mutex keyed on the
// root user, serializing graph mutations per user across pods. Readers
// never take this lock; only the BFS's callers that also mutate do.
func WriteUnderUserLock(ctx context.Context, locker *mutex.Locker, userID string, fn MutationFunc) error {
	lease, err := locker.Acquire(ctx, "entitlement_graph:user:"+userID)
	if err != nil {
		return fmt.Errorf("graph: acquire write lock: %w", err)
	}
	defer lease.Release(context.Background())

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-lease.Lost():
		return mutex.ErrLost
	case <-ctx.Done():
		return ctx.Err()
	}
}
