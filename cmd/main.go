// Command eventapi is the process entrypoint: load configuration, build
// the server, and run it until SIGINT/SIGTERM, using signal.NotifyContext
// for a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/odin-emotes/eventapi/internal/config"
	"github.com/odin-emotes/eventapi/internal/logging"
	"github.com/odin-emotes/eventapi/internal/server"
)

func main() {
	bootLogger := logging.New("info", "json")

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "eventapi: config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogFields(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("eventapi: failed to assemble server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("eventapi: server exited with error")
	}
}
