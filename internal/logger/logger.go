// Package logger builds the service's zerolog loggers. Output is JSON on
// stdout unless the console format is requested.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var root = zerolog.New(os.Stdout).With().Timestamp().Logger()

// New configures the root logger. format is "json" (default) or
// "console".
func New(level, format string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	root = zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", "cfd-pool").
		Logger()
	return root
}

// For returns a child of the root logger tagged with component.
func For(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}

func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
