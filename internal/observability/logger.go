// Package observability configures the process-wide structured logger.
package observability

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger wires the global zerolog logger. When path is non-empty the log
// goes to that file so it does not fight the terminal UI for the screen;
// otherwise it goes to stderr.
func InitLogger(level, path string) (io.Closer, error) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var (
		output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		closer io.Closer
	)
	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closer = file
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	return closer, nil
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}
