package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New constructs the root logger. All services derive scoped loggers from it
// with logger.With().Str("service", ...).
func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// ConsoleWriter gives readable output during local development; JSON
	// everywhere else so log collectors can parse it.
	if os.Getenv("ENV") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return logger.Level(zerolog.InfoLevel)
}
