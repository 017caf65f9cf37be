// Package obslog builds the zerolog.Logger each Provider carries. Unlike
// the teacher's package-global logger, every Provider gets its own
// instance: a process can legitimately open several independent
// databases (tests do this constantly), and their log lines must carry
// distinct "database" fields rather than racing to mutate one global.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is the caller-facing log level, independent of zerolog's own type
// so config packages don't need to import zerolog directly.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how a Provider's logger renders output.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// New builds a logger scoped to one database name, pre-tagged so every
// line it emits can be attributed to the right Provider instance.
func New(databaseName string, cfg Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	case InfoLevel, "":
		level = zerolog.InfoLevel
	default:
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var base zerolog.Logger
	if cfg.JSONOutput {
		base = zerolog.New(output).Level(level).With().Timestamp().Logger()
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).Level(level).With().Timestamp().Logger()
	}

	return base.With().Str("database", databaseName).Logger()
}
