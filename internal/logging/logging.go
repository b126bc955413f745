// Package logging provides structured, daemon-wide logging.
package logging

import (
	"encoding/json"
	"io"
	"os"
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

// Entry represents a structured log entry.
type Entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes structured JSON entries, one per line, to an output writer.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger writing to stdout at LevelInfo.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a child logger tagged with component, e.g. "bridge",
// "orchestrator", "pluginipc".
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{output: l.output, minLevel: l.minLevel, component: component, traceID: l.traceID}
}

// WithTraceID returns a child logger carrying a correlation/trace id.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{output: l.output, minLevel: l.minLevel, component: l.component, traceID: traceID}
}

// SetLevel sets the minimum level that will be emitted.
func (l *Logger) SetLevel(level Level) { l.minLevel = level }

// SetOutput redirects log output (default stdout).
func (l *Logger) SetOutput(w io.Writer) { l.output = w }

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) { l.log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...map[string]interface{})  { l.log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...map[string]interface{})  { l.log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...map[string]interface{}) { l.log(LevelError, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Component: l.component,
		TraceID:   l.traceID,
	}
	if len(fields) > 0 && fields[0] != nil {
		entry.Fields = fields[0]
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		l.output.Write([]byte(msg + "\n"))
		return
	}
	l.output.Write(append(data, '\n'))
}

// EventPublished logs a DaemonEvent being published onto the bus.
func (l *Logger) EventPublished(eventID, kind string) {
	l.Debug("event_published", map[string]interface{}{"event_id": eventID, "kind": kind})
}

// DeliveryFailed logs a delivery attempt exhausting its retries.
func (l *Logger) DeliveryFailed(subscriptionID, eventID string, attempts int, cause error) {
	fields := map[string]interface{}{
		"subscription_id": subscriptionID,
		"event_id":        eventID,
		"attempts":        attempts,
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	l.Error("delivery_failed", fields)
}

// HealthChanged logs a service health-status transition.
func (l *Logger) HealthChanged(serviceID, from, to string) {
	l.Info("health_changed", map[string]interface{}{"service_id": serviceID, "from": from, "to": to})
}

// ServiceTransition logs an orchestrator lifecycle transition.
func (l *Logger) ServiceTransition(serviceID, command, result string) {
	l.Info("service_transition", map[string]interface{}{"service_id": serviceID, "command": command, "result": result})
}

// SecurityViolation logs a subscription failing the security/ACL gate.
func (l *Logger) SecurityViolation(subscriptionID, eventID, reason string) {
	l.Warn("security_violation", map[string]interface{}{
		"subscription_id": subscriptionID,
		"event_id":        eventID,
		"reason":          reason,
	})
}

// Default is the process-wide default logger. Components are expected to
// take a *Logger as a constructor argument; Default exists for command-line
// entrypoints and tests that have no caller-supplied logger.
var Default = New()

func Debug(msg string, fields ...map[string]interface{}) { Default.Debug(msg, fields...) }
func Info(msg string, fields ...map[string]interface{})  { Default.Info(msg, fields...) }
func Warn(msg string, fields ...map[string]interface{})  { Default.Warn(msg, fields...) }
func Error(msg string, fields ...map[string]interface{}) { Default.Error(msg, fields...) }
