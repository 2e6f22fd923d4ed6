package logger

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger provides structured logging across the application
type Logger struct {
	zl zerolog.Logger
}

// NewRoot creates the process-wide logger. Components derive from it with Named.
func NewRoot(level string, pretty bool, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05"}
	}

	zl := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Named derives a logger tagged with a component name
func (l *Logger) Named(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// With derives a logger with an extra string field
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// GenerateID creates a short unique identifier for request/operation tracing
func GenerateID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// Debug starts a debug level event
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }

// Info starts an info level event
func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

// Warn starts a warning level event
func (l *Logger) Warn() *zerolog.Event { return l.zl.Warn() }

// Error starts an error level event
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }
