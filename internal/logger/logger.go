package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// LevelDebug is the most verbose logging level
	LevelDebug Level = iota
	// LevelInfo logs informational messages
	LevelInfo
	// LevelWarn logs warnings
	LevelWarn
	// LevelError logs errors
	LevelError
	// LevelNone disables all logging
	LevelNone
)

// String returns string representation of log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// sink is shared between a logger and every logger derived from it with
// WithPrefix, so SetLevel on the root is seen by all component loggers.
type sink struct {
	mu     sync.RWMutex
	level  Level
	out    *log.Logger
	file   *os.File
	closed bool
}

// Logger writes levelled, prefixed log lines.
type Logger struct {
	sink   *sink
	prefix string
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Init initializes the global logger. An empty logPath logs to stderr.
func Init(level Level, logPath string) error {
	l, err := New(level, logPath, "")
	if err != nil {
		return err
	}

	globalMu.Lock()
	previous := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// New creates a new Logger instance writing to logPath, or to stderr when
// logPath is empty.
func New(level Level, logPath string, prefix string) (*Logger, error) {
	if level == LevelNone {
		return NewWithWriter(level, io.Discard, prefix), nil
	}
	if logPath == "" {
		return NewWithWriter(level, os.Stderr, prefix), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWithWriter(level, file, prefix)
	l.sink.file = file
	return l, nil
}

// NewWithWriter creates a Logger that writes to w.
func NewWithWriter(level Level, w io.Writer, prefix string) *Logger {
	return &Logger{
		sink: &sink{
			level: level,
			out:   log.New(w, "", 0),
		},
		prefix: prefix,
	}
}

// Global returns the global logger instance
func Global() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewWithWriter(LevelNone, io.Discard, "")
	}
	return globalLogger
}

// WithPrefix creates a new logger with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + ":" + prefix
	}
	return &Logger{sink: l.sink, prefix: newPrefix}
}

// Prefix returns the component prefix of this logger.
func (l *Logger) Prefix() string {
	return l.prefix
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	return l.sink.level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()

	if l.sink.closed || level < l.sink.level || l.sink.level == LevelNone {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	prefix := l.prefix
	if prefix != "" {
		prefix = "[" + prefix + "] "
	}

	l.sink.out.Printf("%s [%s] %s%s", timestamp, level.String(), prefix, msg)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Close closes the underlying log file, if any. Loggers derived with
// WithPrefix share the file and stop writing once it is closed.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.closed {
		return nil
	}
	l.sink.closed = true
	if l.sink.file != nil {
		return l.sink.file.Close()
	}
	return nil
}

// Global logging functions for convenience

// Debug logs a debug message using the global logger
func Debug(format string, args ...interface{}) {
	Global().Debug(format, args...)
}

// Info logs an informational message using the global logger
func Info(format string, args ...interface{}) {
	Global().Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(format string, args ...interface{}) {
	Global().Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(format string, args ...interface{}) {
	Global().Error(format, args...)
}

// Component returns a prefixed logger that always resolves the current global
// logger, so packages can hold one in a package variable before Init runs.
func Component(name string) *ComponentLogger {
	return &ComponentLogger{name: name}
}

// ComponentLogger is a lazily bound, prefixed view of the global logger.
type ComponentLogger struct {
	name string
}

func (c *ComponentLogger) get() *Logger {
	return Global().WithPrefix(c.name)
}

// Debug logs a debug message
func (c *ComponentLogger) Debug(format string, args ...interface{}) {
	c.get().Debug(format, args...)
}

// Info logs an informational message
func (c *ComponentLogger) Info(format string, args ...interface{}) {
	c.get().Info(format, args...)
}

// Warn logs a warning message
func (c *ComponentLogger) Warn(format string, args ...interface{}) {
	c.get().Warn(format, args...)
}

// Error logs an error message
func (c *ComponentLogger) Error(format string, args ...interface{}) {
	c.get().Error(format, args...)
}
