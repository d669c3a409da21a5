// Package observability defines shared logging and metrics primitives.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for constructing a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// TextLogger writes key=value lines to a writer. It is the default
// implementation wired by cmd/marketmaker.
type TextLogger struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool
	now   func() time.Time
}

// NewTextLogger constructs a TextLogger writing to out. Debug lines are
// suppressed unless debug is true.
func NewTextLogger(out io.Writer, debug bool) *TextLogger {
	return &TextLogger{out: out, debug: debug, now: time.Now}
}

// Debug logs at debug level when enabled.
func (l *TextLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.write("DEBUG", msg, fields)
}

// Info logs at info level.
func (l *TextLogger) Info(msg string, fields ...Field) { l.write("INFO", msg, fields) }

// Warn logs at warn level.
func (l *TextLogger) Warn(msg string, fields ...Field) { l.write("WARN", msg, fields) }

// Error logs at error level.
func (l *TextLogger) Error(msg string, fields ...Field) { l.write("ERROR", msg, fields) }

func (l *TextLogger) write(level, msg string, fields []Field) {
	var sb strings.Builder
	sb.WriteString(l.now().UTC().Format(time.RFC3339Nano))
	sb.WriteString(" ")
	sb.WriteString(level)
	sb.WriteString(" ")
	sb.WriteString(msg)
	if len(fields) > 0 {
		sorted := make([]Field, len(fields))
		copy(sorted, fields)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
		for _, f := range sorted {
			sb.WriteString(" ")
			sb.WriteString(f.Key)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", f.Value))
		}
	}
	sb.WriteString("\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, sb.String())
}
