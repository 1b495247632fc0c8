package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog Logger.
// APP_ENV=dev (or development) uses a human-friendly console writer.
func NewLogger(env string) zerolog.Logger {
	return newLogger(env, os.Stdout)
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	switch strings.ToLower(env) {
	case "dev", "development":
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	case "test":
		return zerolog.New(out).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLevel applies LOG_LEVEL globally; unknown values leave the level alone.
func SetLevel(level string) {
	if level == "" {
		return
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}
