package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the process logger once at startup.
type Options struct {
	// Level is one of debug, info, warn or error. Anything else, including
	// the empty string, means info.
	Level string

	// JSON switches to machine-readable output; the default is the
	// human-oriented console form.
	JSON bool

	// Writer defaults to stdout.
	Writer io.Writer
}

var (
	mu sync.RWMutex

	// root is usable before Init so early failures are not swallowed.
	root = zerolog.New(console(os.Stdout)).With().Timestamp().Logger()
)

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// Init replaces the process logger. The level is carried on the logger
// itself, not the zerolog global, so tests and embedded use stay isolated.
func Init(opts Options) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := opts.Writer
	if out == nil {
		out = os.Stdout
	}
	if !opts.JSON {
		out = console(out)
	}

	mu.Lock()
	root = zerolog.New(out).Level(level).With().Timestamp().Logger()
	mu.Unlock()
}

// WithComponent returns the logger a relay component writes through. Every
// log line in the relay carries a component field.
func WithComponent(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", component).Logger()
}

// ForRequest scopes a component logger to one relayed request. The id ties
// log lines to the store record whose lifecycle they narrate, across the
// client, peer and driver legs of the exchange.
func ForRequest(component, requestID string) zerolog.Logger {
	return WithComponent(component).With().Str("request_id", requestID).Logger()
}

// ForSession scopes a component logger to one asset-transfer session, the
// SATP analogue of ForRequest.
func ForSession(component, sessionID string) zerolog.Logger {
	return WithComponent(component).With().Str("session_id", sessionID).Logger()
}
