package canhw

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var pkgLogger atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.Nop()
	pkgLogger.Store(&nop)
}

// Logger returns the package logger. It is disabled until SetLogger is
// called.
func Logger() zerolog.Logger {
	return *pkgLogger.Load()
}

func SetLogger(l zerolog.Logger) {
	pkgLogger.Store(&l)
}

// NewConsoleLogger builds a human readable logger, installs it as both the
// package logger and the zerolog global logger and returns it. Unknown
// levels fall back to info.
func NewConsoleLogger(app, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	SetLogger(logger)
	return logger
}
