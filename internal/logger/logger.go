// Package logger provides a thin wrapper around zerolog.Logger used
// throughout labexport.
//
// The Logger type embeds zerolog.Logger so all standard zerolog methods
// (Debug, Info, Warn, Error, etc.) are available directly on *Logger. It also
// satisfies resty's Logger interface so transport warnings end up in the same
// sink as application logs.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin wrapper around zerolog.Logger.
type Logger struct {
	zerolog.Logger
}

// New constructs a *Logger writing human-readable lines to w at the given
// level ("debug", "info", "warn", "error"). Unknown levels fall back to info.
// A nil w writes to os.Stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	logger := zerolog.New(out).Level(lvl).With().
		Str("app", "labexport").
		Timestamp().
		Logger()

	return &Logger{logger}
}

// Nop returns a *Logger that discards all log output.
// It is intended for tests.
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{l.Logger.With().Str(key, value).Logger()}
}

// Errorf implements resty.Logger.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.Error().Str("component", "resty").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Warnf implements resty.Logger.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.Warn().Str("component", "resty").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Debugf implements resty.Logger.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.Debug().Str("component", "resty").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
