// Package logging is a thin zerolog wrapper giving the relay loops a
// per-connection logger and the rest of the process a single global one,
// so --debug toggles per-packet diagnostics without a boolean check at
// every call site.
package logging

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w interface {
		Write(p []byte) (int, error)
	} = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log = zerolog.New(w).With().Timestamp().Logger()
}

// SetDebug raises or lowers the global log level. Debug-level output
// (namely per-packet relay lines) is suppressed unless enabled.
func SetDebug(enabled bool) {
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Logger returns the process-wide logger.
func Logger() zerolog.Logger {
	return log
}

// WithConn returns a logger tagged with a connection id, shared by a
// connection's two relay goroutines so their log lines can be correlated.
func WithConn(id string) zerolog.Logger {
	return log.With().Str("conn", id).Logger()
}
