// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped printf-style logger.
type Logger struct {
	component string
}

var (
	mu   sync.RWMutex
	base = zerolog.Nop()
)

// Init initializes the default logger with the specified level and format.
// Format "text" writes human-readable console lines, anything else writes JSON.
func Init(level string, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if strings.ToLower(format) == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	mu.Lock()
	base = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
}

// With returns a logger that tags every line with the given component.
func With(component string) *Logger {
	return &Logger{component: component}
}

func emit(lvl zerolog.Level, component, format string, args []interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	ev := l.WithLevel(lvl)
	if ev == nil {
		return
	}
	if component != "" {
		ev = ev.Str("component", component)
	}
	ev.Msg(fmt.Sprintf(format, args...))
}

func Debug(format string, args ...interface{}) { emit(zerolog.DebugLevel, "", format, args) }
func Info(format string, args ...interface{})  { emit(zerolog.InfoLevel, "", format, args) }
func Warn(format string, args ...interface{})  { emit(zerolog.WarnLevel, "", format, args) }
func Error(format string, args ...interface{}) { emit(zerolog.ErrorLevel, "", format, args) }

func Fatal(format string, args ...interface{}) {
	emit(zerolog.FatalLevel, "", format, args)
	os.Exit(1)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	emit(zerolog.DebugLevel, l.component, format, args)
}

func (l *Logger) Info(format string, args ...interface{}) {
	emit(zerolog.InfoLevel, l.component, format, args)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	emit(zerolog.WarnLevel, l.component, format, args)
}

func (l *Logger) Error(format string, args ...interface{}) {
	emit(zerolog.ErrorLevel, l.component, format, args)
}
