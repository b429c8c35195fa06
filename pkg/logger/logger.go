package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// InitLogger configures the global logger. Verbose enables debug output
// with a human-readable console writer.
func InitLogger(verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
		return
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
