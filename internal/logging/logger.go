// Package logging provides the structured breadcrumb logger every engine
// emits through (spec §7 "every stage emits structured breadcrumbs").
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Logger is implemented by StructuredLogger and by the release no-op.
type Logger interface {
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Debug(msg string, fields ...any)

	InfoContext(ctx context.Context, msg string, fields ...any)
	WarnContext(ctx context.Context, msg string, fields ...any)
	ErrorContext(ctx context.Context, msg string, fields ...any)
	DebugContext(ctx context.Context, msg string, fields ...any)

	WithTraceID(traceID string) Logger
	WithComponent(component string) Logger
}

type ctxKey string

const traceIDKey ctxKey = "clarium_trace_id"

// LogLevel orders verbosity; entries below a logger's level are dropped.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Entry is one structured breadcrumb. Fields beyond Message carry
// correlation id, chosen path, and sizes per spec §7.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	TraceID   string         `json:"trace_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// StructuredLogger emits JSON by default, or colorized one-line text when
// LOG_JSON=false. It is intentionally cheap: this is a no-op in spirit
// once the caller swaps in the release NoopLogger (internal/logging/noop.go).
type StructuredLogger struct {
	level     LogLevel
	traceID   string
	component string
	useJSON   bool
	out       *os.File
}

func NewLogger(level LogLevel) Logger {
	return &StructuredLogger{level: level, useJSON: getEnvBool("LOG_JSON", true), out: os.Stdout}
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func (l *StructuredLogger) WithTraceID(traceID string) Logger {
	n := *l
	n.traceID = traceID
	return &n
}

func (l *StructuredLogger) WithComponent(component string) Logger {
	n := *l
	n.component = component
	return &n
}

func (l *StructuredLogger) Info(msg string, fields ...any)  { l.log(INFO, "INFO", "", msg, fields) }
func (l *StructuredLogger) Warn(msg string, fields ...any)  { l.log(WARN, "WARN", "", msg, fields) }
func (l *StructuredLogger) Error(msg string, fields ...any) { l.log(ERROR, "ERROR", "", msg, fields) }
func (l *StructuredLogger) Debug(msg string, fields ...any) { l.log(DEBUG, "DEBUG", "", msg, fields) }

func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, fields ...any) {
	l.log(INFO, "INFO", TraceFromContext(ctx), msg, fields)
}
func (l *StructuredLogger) WarnContext(ctx context.Context, msg string, fields ...any) {
	l.log(WARN, "WARN", TraceFromContext(ctx), msg, fields)
}
func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, fields ...any) {
	l.log(ERROR, "ERROR", TraceFromContext(ctx), msg, fields)
}
func (l *StructuredLogger) DebugContext(ctx context.Context, msg string, fields ...any) {
	l.log(DEBUG, "DEBUG", TraceFromContext(ctx), msg, fields)
}

func (l *StructuredLogger) log(level LogLevel, tag, ctxTrace, msg string, fields []any) {
	if level < l.level {
		return
	}
	traceID := l.traceID
	if ctxTrace != "" {
		traceID = ctxTrace
	}
	fieldMap := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		fieldMap[fmt.Sprintf("%v", fields[i])] = fields[i+1]
	}
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     tag,
		Message:   msg,
		TraceID:   traceID,
		Component: l.component,
		Fields:    fieldMap,
	}
	if l.useJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: marshal failed: %v\n", err)
			return
		}
		fmt.Fprintln(l.out, string(data))
		return
	}
	l.writeText(tag, entry)
}

func (l *StructuredLogger) writeText(tag string, entry Entry) {
	paint := color.New(color.FgCyan).SprintFunc()
	switch tag {
	case "WARN":
		paint = color.New(color.FgYellow).SprintFunc()
	case "ERROR":
		paint = color.New(color.FgRed, color.Bold).SprintFunc()
	case "INFO":
		paint = color.New(color.FgGreen).SprintFunc()
	}
	parts := []string{entry.Timestamp, paint("[" + tag + "]")}
	if entry.Component != "" {
		parts = append(parts, "component="+entry.Component)
	}
	if entry.TraceID != "" {
		parts = append(parts, "trace="+shorten(entry.TraceID))
	}
	parts = append(parts, entry.Message)
	for k, v := range entry.Fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	fmt.Fprintln(l.out, strings.Join(parts, " "))
}

func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func GenerateTraceID() string { return uuid.New().String() }

func WithTrace(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
