// Package logger wires zerolog into a single constructor so every
// component receives a configured logger at construction time instead of
// reaching for a package-global.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how the root logger is built.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Pretty enables the human-readable console writer (development mode).
	Pretty bool
	// Output overrides the destination writer; defaults to os.Stdout.
	Output io.Writer
}

// New builds a root zerolog.Logger from cfg.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for tests that don't
// care about log output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
