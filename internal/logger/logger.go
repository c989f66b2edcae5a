package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Unknown levels fall back to info.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
