// Package structlog provides structured JSON logging with level
// filtering, correlation IDs, and masking of sensitive fields such as
// tokens and raw frame payloads.
package structlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Fields are structured log fields.
type Fields map[string]any

// Sensitive field names are masked wherever they appear; frame payloads
// are large and privacy-bearing, never log them.
var maskedFields = []string{"password", "secret", "token", "authorization", "webcam_frame", "screen_frame"}

type ctxKeyCorrID struct{}

// Logger writes one JSON object per line.
type Logger struct {
	service string
	level   Level
	mu      sync.Mutex
	out     io.Writer
	base    Fields
}

// New creates a logger for a service. A nil output defaults to stdout.
func New(service string, level Level, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{service: service, level: level, out: out, base: Fields{}}
}

// WithFields returns a child logger carrying extra base fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	child := &Logger{service: l.service, level: l.level, out: l.out, base: make(Fields, len(l.base)+len(fields))}
	for k, v := range l.base {
		child.base[k] = v
	}
	for k, v := range fields {
		child.base[k] = v
	}
	return child
}

// WithContext attaches the context's correlation ID, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := CorrelationID(ctx); id != "" {
		return l.WithFields(Fields{"correlation_id": id})
	}
	return l
}

func (l *Logger) Debug(msg string, fields Fields) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields Fields)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields Fields)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields Fields) {
	if level < l.level {
		return
	}
	entry := make(Fields, len(l.base)+len(fields)+4)
	for k, v := range l.base {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["service"] = l.service
	entry["message"] = msg
	if level >= LevelError {
		if _, file, line, ok := runtime.Caller(2); ok {
			entry["caller"] = fmt.Sprintf("%s:%d", file, line)
		}
	}
	mask(entry)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.out).Encode(entry); err != nil {
		fmt.Fprintf(os.Stderr, "structlog: encode failed: %v\n", err)
	}
}

func mask(fields Fields) {
	for k := range fields {
		lk := strings.ToLower(k)
		for _, m := range maskedFields {
			if strings.Contains(lk, m) {
				fields[k] = "MASKED"
				break
			}
		}
	}
}

// WithCorrelationID stores a correlation ID on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrID{}, id)
}

// CorrelationID reads the correlation ID from the context, if present.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrID{}).(string)
	return id
}
