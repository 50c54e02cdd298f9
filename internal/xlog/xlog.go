// Package xlog holds the process-wide structured log sink used by every
// component in cloudkit. Adapters and the request engine route diagnostics
// through it instead of reaching for the standard log package directly.
package xlog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// Init replaces the global sink. Passing nil is equivalent to Reset.
func Init(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log = zerolog.New(w).With().Timestamp().Logger()
}

// Reset restores the default console sink.
func Reset() {
	Init(zerolog.ConsoleWriter{Out: os.Stderr})
}

// L returns the current global logger.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &log
}
