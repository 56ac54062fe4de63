// Package logging builds the structured loggers shared by lectern components.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/lectern/config"
)

// Options holds logger configuration.
type Options struct {
	Level  string // debug, info, warn, error
	Pretty bool
	Output io.Writer
}

// FromConfig maps the general config section to logger options.
func FromConfig(cfg config.GeneralConfig) Options {
	return Options{Level: cfg.LogLevel, Pretty: cfg.Debug}
}

// New creates the root logger.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	if opts.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "lectern").
		Logger()
}

// Component returns a child logger tagged with the component name.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}
