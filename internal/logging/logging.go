// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New returns a logger writing to w at level. Pretty output is the console
// writer; otherwise one JSON object per line. Unknown levels fall back to
// info. The global zerolog logger is replaced too so package-level log calls
// agree with it.
func New(level string, w io.Writer, pretty bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
