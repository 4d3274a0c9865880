package initialize

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger: console writer to stdout.
func NewLogger() zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stdout}
	return zerolog.New(cw).With().Timestamp().Logger()
}
