// Package logging configures the agent's structured logger. Output goes to
// stderr so the external tools' own stdout passes through untouched.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EnvLogLevel overrides the default info level ("debug", "warn", ...).
const EnvLogLevel = "RELION_AGENT_LOG_LEVEL"

var configureOnce sync.Once

// Configure applies the global logger settings once per process.
func Configure() {
	configureOnce.Do(func() {
		zerolog.SetGlobalLevel(parseLevel(os.Getenv(EnvLogLevel)))
	})
}

// NewJobLogger returns a console logger tagged with the job kind and a fresh
// run id, so interleaved pipeline logs stay attributable.
func NewJobLogger(jobKind string) zerolog.Logger {
	Configure()
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Str("job", jobKind).
		Str("run_id", uuid.NewString()).
		Logger()
}

func parseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
