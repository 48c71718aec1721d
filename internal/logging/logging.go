package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents log severity level.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// severityNumbers maps OTEL severity text to OTEL severity number.
// See https://opentelemetry.io/docs/specs/otel/logs/data-model/#severity-fields
var severityNumbers = map[Level]int{
	LevelDebug: 5,  // DEBUG
	LevelInfo:  9,  // INFO
	LevelWarn:  13, // WARN
	LevelError: 17, // ERROR
	LevelFatal: 21, // FATAL
}

// SeverityNumber returns the OTEL severity number for a level.
func SeverityNumber(level Level) int {
	return severityNumbers[level]
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return "", fmt.Errorf("unknown log level: %q", s)
	}
}

// Sink receives every formatted log record after it has been written to the
// logger's output. Submit must not block and must not retain record after
// returning unless it copies it.
type Sink interface {
	Submit(record []byte)
	Flush()
}

// Logger provides JSON structured logging in OTEL-compatible format.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	resource map[string]string
	sinks    []Sink
	minLevel atomic.Int32
}

// Option configures a Logger.
type Option func(*Logger)

// WithLevel drops records below level.
func WithLevel(level Level) Option {
	return func(l *Logger) { l.minLevel.Store(int32(severityNumbers[level])) }
}

// WithResource sets the OTEL resource attributes (service.name, service.version, etc.).
func WithResource(resource map[string]string) Option {
	return func(l *Logger) { l.resource = resource }
}

// WithSink attaches a sink that receives each formatted record.
func WithSink(s Sink) Option {
	return func(l *Logger) { l.sinks = append(l.sinks, s) }
}

// LogEntry represents a single log entry in OTEL-compatible JSON format.
type LogEntry struct {
	Timestamp      string                 `json:"Timestamp"`
	SeverityText   string                 `json:"SeverityText"`
	SeverityNumber int                    `json:"SeverityNumber"`
	Body           string                 `json:"Body"`
	Attributes     map[string]interface{} `json:"Attributes,omitempty"`
	Resource       map[string]string      `json:"Resource,omitempty"`
}

// New creates a Logger writing to out. A nil out discards output; records are
// still delivered to sinks.
func New(out io.Writer, opts ...Option) *Logger {
	if out == nil {
		out = io.Discard
	}
	l := &Logger{output: out}
	l.minLevel.Store(int32(severityNumbers[LevelInfo]))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New(io.Discard)
	l.minLevel.Store(int32(severityNumbers[LevelFatal]) + 1)
	return l
}

var defaultLogger = New(os.Stdout)

// SetDefault replaces the process-wide logger. Should be called once at startup.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Enabled reports whether records at level are emitted.
func (l *Logger) Enabled(level Level) bool {
	return int32(severityNumbers[level]) >= l.minLevel.Load()
}

// AddSink attaches a sink after construction.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Flush flushes all attached sinks.
func (l *Logger) Flush() {
	l.mu.Lock()
	sinks := l.sinks
	l.mu.Unlock()
	for _, s := range sinks {
		s.Flush()
	}
}

// log writes a structured log entry in OTEL-compatible JSON format.
func (l *Logger) log(level Level, msg string, attrs map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}
	entry := LogEntry{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		SeverityText:   string(level),
		SeverityNumber: severityNumbers[level],
		Body:           msg,
		Attributes:     attrs,
	}

	l.mu.Lock()
	if l.resource != nil {
		entry.Resource = l.resource
	}
	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(LogEntry{
			Timestamp:      entry.Timestamp,
			SeverityText:   entry.SeverityText,
			SeverityNumber: entry.SeverityNumber,
			Body:           msg,
			Attributes:     map[string]interface{}{"marshal_error": err.Error()},
		})
	}
	data = append(data, '\n')
	_, _ = l.output.Write(data)
	sinks := l.sinks
	l.mu.Unlock()

	// Sinks run outside the lock so a sink may log through another logger.
	for _, s := range sinks {
		s.Submit(data)
	}
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug level message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, first(fields))
}

// Info logs an info level message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, first(fields))
}

// Warn logs a warning level message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, first(fields))
}

// Error logs an error level message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, first(fields))
}

// Fatal logs a fatal level message, flushes sinks and exits.
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.log(LevelFatal, msg, first(fields))
	l.Flush()
	os.Exit(1)
}

// Debug logs a debug level message on the default logger.
func Debug(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelDebug, msg, first(fields))
}

// Info logs an info level message on the default logger.
func Info(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelInfo, msg, first(fields))
}

// Warn logs a warning level message on the default logger.
func Warn(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelWarn, msg, first(fields))
}

// Error logs an error level message on the default logger.
func Error(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelError, msg, first(fields))
}

// Fatal logs a fatal level message on the default logger and exits.
func Fatal(msg string, fields ...map[string]interface{}) {
	defaultLogger.Fatal(msg, fields...)
}

// F is a helper to create fields map.
func F(keyvals ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(keyvals)-1; i += 2 {
		if key, ok := keyvals[i].(string); ok {
			fields[key] = keyvals[i+1]
		}
	}
	return fields
}
