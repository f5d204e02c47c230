package purge

import (
	"context"

	"github.com/rs/zerolog"
)

// LogInvalidator is a stand-in Invalidator for deployments that haven't
// wired a real third-party edge-proxy invalidator yet. The actual
// invalidator (e.g. a CDN vendor's purge API) is an external collaborator;
// this type only exists so Producer.RunAckWorker has something concrete to
// call; internal/server wires it in.
type LogInvalidator struct {
	Logger zerolog.Logger
}

// Invalidate logs the files that would be forwarded to the real invalidator.
func (l LogInvalidator) Invalidate(_ context.Context, files []string) error {
	l.Logger.Info().Strs("files", files).Msg("purge: forwarding to edge-proxy invalidator")
	return nil
}
