// Package logging configures the global zerolog logger
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/navikt/breakouts/internal/config"
)

// Init sets up the global logger from configuration.
// Format "json" writes structured lines, anything else a human-friendly console output.
func Init(cfg config.LogConfig) {
	InitWithWriter(cfg, os.Stderr)
}

// InitWithWriter is Init with an explicit output
func InitWithWriter(cfg config.LogConfig, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.Format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// Module returns a child logger tagged with a module name
func Module(name string) zerolog.Logger {
	return log.With().Str("module", name).Logger()
}
