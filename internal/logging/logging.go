// Package logging provides the leveled, queued logging pipeline used by
// every other subsystem.
//
// Log calls accept deferred message producers rather than pre-formatted
// strings, so message construction is skipped entirely when the level is
// filtered out. All writes funnel through a Controller that keeps a
// strictly ordered stream even when callers log from multiple goroutines.
package logging

import (
	"fmt"
	"time"
)

// Level represents the severity level of a log message.
type Level int

const (
	// LevelTrace is for very fine-grained diagnostic information.
	LevelTrace Level = iota
	// LevelDebug is for detailed debugging information.
	LevelDebug
	// LevelInfo is for general informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
	// LevelFatal is for unrecoverable errors.
	LevelFatal
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown strings map to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "trace", "TRACE":
		return LevelTrace
	case "debug", "DEBUG":
		return LevelDebug
	case "info", "INFO":
		return LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "fatal", "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// MessageFunc lazily produces a log message. It is only invoked when the
// message's level passes the controller's filter.
type MessageFunc func() string

// Msg returns a MessageFunc for a fixed string.
func Msg(s string) MessageFunc {
	return func() string { return s }
}

// Msgf returns a MessageFunc that formats its arguments on demand.
func Msgf(format string, args ...any) MessageFunc {
	return func() string { return fmt.Sprintf(format, args...) }
}

// Entry is a single formatted log message.
type Entry struct {
	// Time is when the message was produced.
	Time time.Time

	// Level is the message severity.
	Level Level

	// Source identifies the component that produced the message.
	Source string

	// Message is the rendered message text.
	Message string
}

// String renders the entry in the standard line format.
func (e Entry) String() string {
	if e.Source != "" {
		return fmt.Sprintf("%s [%s] %s: %s", e.Time.Format("2006-01-02T15:04:05.000"), e.Level, e.Source, e.Message)
	}
	return fmt.Sprintf("%s [%s] %s", e.Time.Format("2006-01-02T15:04:05.000"), e.Level, e.Message)
}

// Logger produces messages for one named source, routed through a
// Controller. The zero value is a disabled logger.
type Logger struct {
	ctrl     *Controller
	source   string
	disabled bool
}

// NullLogger discards all messages.
var NullLogger = &Logger{disabled: true}

// Source returns the logger's source name.
func (l *Logger) Source() string {
	return l.source
}

// WithSource returns a logger for a sub-source of this logger.
func (l *Logger) WithSource(source string) *Logger {
	if l.disabled || l.ctrl == nil {
		return NullLogger
	}
	if l.source != "" {
		source = l.source + "." + source
	}
	return &Logger{ctrl: l.ctrl, source: source}
}

// Trace logs a trace message.
func (l *Logger) Trace(msg MessageFunc) { l.log(LevelTrace, msg) }

// Debug logs a debug message.
func (l *Logger) Debug(msg MessageFunc) { l.log(LevelDebug, msg) }

// Info logs an info message.
func (l *Logger) Info(msg MessageFunc) { l.log(LevelInfo, msg) }

// Warn logs a warning message.
func (l *Logger) Warn(msg MessageFunc) { l.log(LevelWarn, msg) }

// Error logs an error message.
func (l *Logger) Error(msg MessageFunc) { l.log(LevelError, msg) }

// Fatal logs a fatal message.
func (l *Logger) Fatal(msg MessageFunc) { l.log(LevelFatal, msg) }

func (l *Logger) log(level Level, msg MessageFunc) {
	if l.disabled || l.ctrl == nil || msg == nil {
		return
	}
	if !l.ctrl.enabled(level) {
		return
	}
	l.ctrl.submit(Entry{
		Time:    time.Now(),
		Level:   level,
		Source:  l.source,
		Message: msg(),
	})
}
