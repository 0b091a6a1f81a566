// Package logging provides the structured logger shared by the router and its middleware.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// Logger wraps logrus with the service name and trace-id helpers.
type Logger struct {
	*logrus.Logger
	service string
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// New creates a logger for service. level is a logrus level name ("debug",
// "info", ...) and format is "json" or "text". Unknown values fall back to
// info/json.
func New(service, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}

	return &Logger{Logger: l, service: service}
}

// NewDiscard returns a logger that drops everything. Useful in tests.
func NewDiscard(service string) *Logger {
	l := New(service, "panic", "json")
	l.SetOutput(io.Discard)
	return l
}

// Default returns the process-wide logger, created on first use.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New("pitext-router", os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	})
	return defaultLogger
}

// WithContext returns an entry tagged with the service and the context's trace id.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if ctx == nil {
		return entry
	}
	if id := TraceID(ctx); id != "" {
		entry = entry.WithField("trace_id", id)
	}
	return entry.WithContext(ctx)
}

// WithApp returns an entry scoped to a sub-app.
func (l *Logger) WithApp(app string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"app":     app,
	})
}

// LogRequest records a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})

	switch {
	case status >= 500:
		entry.Error("request completed")
	case status >= 400:
		entry.Warn("request completed")
	default:
		entry.Info("request completed")
	}
}

// LogSecurityEvent records events such as rate-limit rejections.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(logrus.Fields(fields)).WithField("security_event", event).Warn("security event")
}

// NewTraceID returns a fresh random trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace id on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace id from ctx, or "".
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
