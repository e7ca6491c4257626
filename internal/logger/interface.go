package logger

import "codeberg.org/mutker/posturectl/internal/errors"

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
	With(component string) Logger
}
