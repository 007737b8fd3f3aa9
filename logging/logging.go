// Package logging provides leveled console logging for drainkit.
// Trace events are the forensic record of an exit sequence; these lines are
// for operators watching the process go down.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name. Empty means INFO.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LevelInfo, nil
	}
	l := Level(strings.ToUpper(s))
	if l == "WARNING" {
		l = LevelWarn
	}
	if _, ok := levelPriority[l]; !ok {
		return "", fmt.Errorf("unknown log level: %s", s)
	}
	return l, nil
}

// sink is shared between a logger and the loggers derived from it.
type sink struct {
	mu     sync.Mutex
	output io.Writer
}

// Logger writes lines of the form: LEVEL TIMESTAMP [component] message key=value ...
type Logger struct {
	sink      *sink
	minLevel  Level
	component string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{
		sink:     &sink{output: os.Stdout},
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a logger tagging lines with component.
// The derived logger shares the parent's output.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		sink:      l.sink,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output.Write([]byte(line))
}

// --- Exit sequence events ---

// DrainStart logs the acceptance of an exit request.
func (l *Logger) DrainStart(session string, code int, timeout time.Duration, hooks int) {
	l.Info("drain_start", map[string]interface{}{
		"session": session,
		"code":    code,
		"timeout": timeout.String(),
		"hooks":   hooks,
	})
}

// DuplicateExit logs an exit request rejected because a drain is in flight.
func (l *Logger) DuplicateExit(code int) {
	l.Warn("exit_ignored", map[string]interface{}{
		"code":   code,
		"reason": "drain in progress",
	})
}

// HookInvoked logs a hook callback being started.
func (l *Logger) HookInvoked(hook string) {
	l.Debug("hook_invoked", map[string]interface{}{
		"hook": hook,
	})
}

// HookAcknowledged logs a hook signalling completion.
func (l *Logger) HookAcknowledged(hook string, duration time.Duration, outstanding int) {
	l.Debug("hook_ack", map[string]interface{}{
		"hook":        hook,
		"duration":    duration.String(),
		"outstanding": outstanding,
	})
}

// HookFailure logs a hook that failed during invocation.
func (l *Logger) HookFailure(hook string, err error) {
	l.Error("hook_failed", map[string]interface{}{
		"hook":  hook,
		"error": err.Error(),
	})
}

// DrainComplete logs the resolution of a drain session.
func (l *Logger) DrainComplete(session, outcome string, code int, duration time.Duration, abandoned []string) {
	fields := map[string]interface{}{
		"session":  session,
		"outcome":  outcome,
		"code":     code,
		"duration": duration.String(),
	}
	if len(abandoned) > 0 {
		fields["abandoned"] = strings.Join(abandoned, ",")
		l.Warn("drain_complete", fields)
		return
	}
	l.Info("drain_complete", fields)
}
