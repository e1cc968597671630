// Package logging wires the process-wide zerolog logger, generalizing
// internal/shared/utils/log.go: one console writer, structured fields
// instead of printf-style lines, and a verbose toggle instead of the
// teacher's hardcoded emoji log lines.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the global zerolog logger and returns it. verbose
// lowers the minimum level to debug; otherwise info.
func Init(verbose bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger
}
