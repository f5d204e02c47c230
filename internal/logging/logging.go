// Package logging centralizes zerolog setup: structured JSON to stdout with
// configurable level filtering and output format.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the root logger for the process. format "pretty" selects the
// human-readable console writer; any other value gives JSON.
func New(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out zerolog.Logger
	switch strings.ToLower(format) {
	case "pretty":
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	default:
		out = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	out = out.Level(parseLevel(level))
	return out
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
