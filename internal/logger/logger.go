package logger

import (
	"io"
	"os"
	"syscall"
	"time"

	"codeberg.org/mutker/posturectl/internal/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = zerolog.New(io.Discard)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Rotation limits for the optional log file
const (
	fileMaxSizeMB  = 20
	fileMaxBackups = 3
	fileMaxAgeDays = 14
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Options controls where and how much the logger writes.
type Options struct {
	Level     string
	File      string
	IsService bool
	NoColor   bool
	Out       io.Writer
}

// Init initializes the logger based on the given configuration
func Init(opts Options) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	console := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    opts.NoColor || opts.IsService,
	}

	if opts.IsService {
		console.TimeFormat = ""
		console.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	var w io.Writer = console
	if opts.File != "" {
		w = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
			MaxAge:     fileMaxAgeDays,
			Compress:   true,
		})
	}

	log = zerolog.New(w).With().Timestamp().Logger()

	SetLogLevel(ParseLevel(opts.Level))
}

// ParseLevel maps a configured level name to a LogLevel. Unknown names
// fall back to info.
func ParseLevel(level string) LogLevel {
	switch level {
	case "debug":
		return DebugLevel
	case "warning", "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Error().
		Str("error_code", string(err.Code())).
		Str("error_category", string(err.Category())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// componentLogger tags every event with the owning component.
type componentLogger struct {
	zl zerolog.Logger
}

// Default returns a Logger backed by the package logger.
func Default() Logger {
	return &componentLogger{zl: log}
}

// Nop returns a Logger that discards everything. Useful in tests.
func Nop() Logger {
	return &componentLogger{zl: zerolog.Nop()}
}

func (l *componentLogger) Debug() *LogEvent { return &LogEvent{l.zl.Debug()} }
func (l *componentLogger) Info() *LogEvent  { return &LogEvent{l.zl.Info()} }
func (l *componentLogger) Warn() *LogEvent  { return &LogEvent{l.zl.Warn()} }
func (l *componentLogger) Error() *LogEvent { return &LogEvent{l.zl.Error()} }

func (l *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{l.zl.Error().
		Str("error_code", string(err.Code())).
		Str("error_category", string(err.Category())).
		AnErr("error", err)}
}

func (l *componentLogger) With(component string) Logger {
	return &componentLogger{zl: l.zl.With().Str("component", component).Logger()}
}
