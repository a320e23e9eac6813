// Package logging wraps github.com/rs/zerolog so call sites never import
// zerolog directly. It mirrors the facade the teacher project keeps in
// pkg/logging/logger.go: a Logger/Event pair, package-level helpers bound to a
// DefaultLogger, and level parsing for configuration.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// Event wraps a zerolog.Event.
type Event struct {
	ze *zerolog.Event
}

// Level mirrors zerolog.Level so callers never import zerolog.
type Level int8

const (
	DebugLevel Level = Level(zerolog.DebugLevel)
	InfoLevel  Level = Level(zerolog.InfoLevel)
	WarnLevel  Level = Level(zerolog.WarnLevel)
	ErrorLevel Level = Level(zerolog.ErrorLevel)
	FatalLevel Level = Level(zerolog.FatalLevel)
	PanicLevel Level = Level(zerolog.PanicLevel)
	Disabled   Level = Level(zerolog.Disabled)
)

// ParseLevel parses a level string (e.g. "debug", "info") into a Level.
func ParseLevel(s string) (Level, error) {
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		return Level(0), err
	}
	return Level(l), nil
}

// SetGlobalLevel sets the minimum level that will be logged.
func SetGlobalLevel(level Level) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// DefaultLogger is the logger used by the package-level helper functions.
var DefaultLogger = New(os.Stderr)

// New builds a Logger writing RFC3339-timestamped JSON to w.
func New(w io.Writer) Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// NewConsole builds a Logger writing human-readable output to w, for
// interactive use (matches the teacher's console_writer.go intent).
func NewConsole(w io.Writer) Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return Logger{zl: zerolog.New(cw).With().Timestamp().Logger()}
}

func (l Logger) With(key, value string) Logger {
	return Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l Logger) Debug() Event { return Event{ze: l.zl.Debug()} }
func (l Logger) Info() Event  { return Event{ze: l.zl.Info()} }
func (l Logger) Warn() Event  { return Event{ze: l.zl.Warn()} }
func (l Logger) Error() Event { return Event{ze: l.zl.Error()} }
func (l Logger) Fatal() Event { return Event{ze: l.zl.Fatal()} }

func (e Event) Err(err error) Event {
	e.ze = e.ze.Err(err)
	return e
}

func (e Event) Str(key, value string) Event {
	e.ze = e.ze.Str(key, value)
	return e
}

func (e Event) Int(key string, value int) Event {
	e.ze = e.ze.Int(key, value)
	return e
}

func (e Event) Int64(key string, value int64) Event {
	e.ze = e.ze.Int64(key, value)
	return e
}

func (e Event) Uint64(key string, value uint64) Event {
	e.ze = e.ze.Uint64(key, value)
	return e
}

func (e Event) Bool(key string, value bool) Event {
	e.ze = e.ze.Bool(key, value)
	return e
}

func (e Event) Dur(key string, value time.Duration) Event {
	e.ze = e.ze.Dur(key, value)
	return e
}

func (e Event) Time(key string, value time.Time) Event {
	e.ze = e.ze.Time(key, value)
	return e
}

func (e Event) Msg(msg string) { e.ze.Msg(msg) }

func (e Event) Msgf(format string, args ...interface{}) { e.ze.Msgf(format, args...) }

// Package-level helpers bound to DefaultLogger, for callers that don't carry
// their own Logger value (matches the teacher's top-level log.* convenience).
func Debug() Event { return DefaultLogger.Debug() }
func Info() Event  { return DefaultLogger.Info() }
func Warn() Event  { return DefaultLogger.Warn() }
func Error() Event { return DefaultLogger.Error() }
func Fatal() Event { return DefaultLogger.Fatal() }
