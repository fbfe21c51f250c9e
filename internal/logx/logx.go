package logx

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool `envconfig:"LOG_DEBUG" default:"false"`
	PrettyFormat bool `envconfig:"LOG_PRETTY" default:"false"`
}

// Init replaces the global zerolog logger.
func Init(conf Config) {
	log.Logger = New(os.Stdout, conf)
}

// New builds a logger writing to w. Tests pass io.Discard or a buffer.
func New(w io.Writer, conf Config) zerolog.Logger {
	var logger zerolog.Logger
	if conf.PrettyFormat {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(w).With().Timestamp().Logger()
	}

	if conf.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
	return logger.With().Caller().Logger()
}
