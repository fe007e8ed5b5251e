// Package logging is the process-wide leveled logger. Call sites use the
// printf helpers with "component.Type.method key=value" messages.
package logging

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var current atomic.Pointer[zerolog.Logger]

func init() {
	l := build(defaultConfig(ProfileRuntime))
	current.Store(&l)
}

// Apply replaces the process logger.
func Apply(cfg Config) {
	l := build(cfg)
	current.Store(&l)
}

func build(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		cw := zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor, TimeFormat: time.RFC3339}
		if !cfg.Timestamp {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		out = cw
	}
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// Logger returns the process logger for structured events.
func Logger() *zerolog.Logger {
	return current.Load()
}

func Tracef(format string, args ...any) { Logger().Trace().Msgf(format, args...) }
func Debugf(format string, args ...any) { Logger().Debug().Msgf(format, args...) }
func Infof(format string, args ...any)  { Logger().Info().Msgf(format, args...) }
func Warnf(format string, args ...any)  { Logger().Warn().Msgf(format, args...) }
func Errf(format string, args ...any)   { Logger().Error().Msgf(format, args...) }

// Logf writes without a level so it is shown regardless of the configured threshold.
func Logf(format string, args ...any) { Logger().Log().Msgf(format, args...) }
