// Package logging wraps zerolog for structured, leveled logging. Every
// component receives its own logger by constructor injection — there is
// no package-level ambient logger state.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how a logger is built.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is "json" or "console". Defaults to console.
	Format string
	// Output defaults to os.Stderr so stdout stays free for run
	// artifacts (patches, reports) a caller might pipe.
	Output io.Writer
}

// New builds a root zerolog.Logger from cfg.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if strings.EqualFold(cfg.Format, "json") {
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a "component" field.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// WithTask returns a child logger tagged with the task id.
func WithTask(l zerolog.Logger, taskID string) zerolog.Logger {
	return l.With().Str("task_id", taskID).Logger()
}
