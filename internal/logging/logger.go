// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLevel names the environment variable consulted when no level is given.
const EnvLevel = "LYRA_LOG_LEVEL"

// Init initializes the global logger. level comes from the --log-level flag;
// when empty, LYRA_LOG_LEVEL is used, and info when neither is set.
// Accepted levels: debug, info, warn, error.
func Init(level string) zerolog.Level {
	return InitWriter(level, os.Stderr)
}

// InitWriter is Init with console output going to w.
func InitWriter(level string, w io.Writer) zerolog.Level {
	lvl := ParseLevel(level)
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"})
	return lvl
}

// ParseLevel resolves a level name, falling back to LYRA_LOG_LEVEL and then
// to info.
func ParseLevel(level string) zerolog.Level {
	if level == "" {
		level = os.Getenv(EnvLevel)
	}
	switch strings.ToLower(level) {
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
