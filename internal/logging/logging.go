// Package logging wires up zerolog the way the rest of the pack does:
// a console writer in development, one logger per component via With().Str.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a component-scoped logger writing to stderr.
func New(component string) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Str("component", component).Logger()
}
