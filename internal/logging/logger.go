// Package logging builds the zerolog.Logger every component in this repo
// shares, configured from internal/config rather than hardcoded, and
// exposes the error-logging helpers the rest of the tree calls into.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level mirrors the subset of zerolog levels this service's config exposes.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format picks the renderer: json for log shipping, pretty for a console.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config configures New.
type Config struct {
	Level     Level
	Format    Format
	Component string // e.g. "pwsd", "pwsc"
}

// New builds a zerolog.Logger per config: JSON to stdout by default, or a
// zerolog.ConsoleWriter when Format is pretty, stamped with Component and a
// RFC3339 timestamp plus caller info for debugging.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	component := cfg.Component
	if component == "" {
		component = "pws"
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("component", component).
		Logger()
}

// InitGlobal points the zerolog/log package-level Logger at a logger built
// from cfg, for libraries that log through the global instead of taking one.
func InitGlobal(cfg Config) {
	log.Logger = New(cfg)
}

// LogError logs err with msg and arbitrary context fields.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogErrorWithStack is LogError plus a captured stack trace, for panics
// recovered or otherwise unexpected failures worth the extra log volume.
func LogErrorWithStack(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err).Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
