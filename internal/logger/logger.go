// Package logger wraps zerolog behind the small structured-logging surface
// the engine needs. The engine itself never writes unless the host installs
// a real logger; Nop is the default.
package logger

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// LogFields carries structured key/value context for one log entry.
type LogFields map[string]interface{}

// Logger emits structured log entries at the usual severities.
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger writing JSON entries to w at the given minimum level.
// Unknown level strings fall back to "info".
func New(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Debug logs msg with fields at debug level.
func (l *Logger) Debug(msg string, fields LogFields) {
	l.zl.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Info logs msg with fields at info level.
func (l *Logger) Info(msg string, fields LogFields) {
	l.zl.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Warn logs msg with fields at warn level.
func (l *Logger) Warn(msg string, fields LogFields) {
	l.zl.Warn().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Error logs msg with fields at error level.
func (l *Logger) Error(msg string, fields LogFields) {
	l.zl.Error().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Debugf logs a formatted message at debug level, for call sites with no
// structured context worth keeping.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprintf(format, args...))
}
