// Package logging provides a logrus-backed structured logger that carries
// trace and principal identifiers from request contexts.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	// TraceIDKey holds the per-request trace identifier.
	TraceIDKey contextKey = "trace_id"
	// UserIDKey holds the authenticated principal identifier.
	UserIDKey contextKey = "user_id"
	// RoleKey holds the authenticated principal role.
	RoleKey contextKey = "role"
)

// Logger is a logrus entry pre-populated with the service name.
type Logger struct {
	*logrus.Entry
}

// New creates a logger writing to stdout.
func New(service, level, format string) *Logger {
	return NewWithOutput(service, level, format, os.Stdout)
}

// NewDefault creates an info-level JSON logger.
func NewDefault(service string) *Logger {
	return New(service, "info", "json")
}

// NewWithOutput creates a logger writing to out. Unknown levels fall back to
// info; any format other than "text" is JSON.
func NewWithOutput(service, level, format string, out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	return &Logger{Entry: base.WithField("service", service)}
}

// OpenOutput resolves a configured output name to a writer. "stdout", "stderr"
// and "" are the standard streams; anything else is a file opened for append.
func OpenOutput(output string) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(output)) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// WithContext returns an entry annotated with the trace id, user id and role
// found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Entry.WithContext(ctx)
	if ctx == nil {
		return entry
	}
	fields := logrus.Fields{}
	if v := GetTraceID(ctx); v != "" {
		fields["trace_id"] = v
	}
	if v := GetUserID(ctx); v != "" {
		fields["user_id"] = v
	}
	if v := GetRole(ctx); v != "" {
		fields["role"] = v
	}
	if len(fields) == 0 {
		return entry
	}
	return entry.WithFields(fields)
}

// WithFields returns an entry with the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Entry.WithFields(logrus.Fields(fields))
}

// LogRequest records a completed HTTP request. Server errors log at error
// level and client errors at warn.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("HTTP request")
	case status >= 400:
		entry.Warn("HTTP request")
	default:
		entry.Info("HTTP request")
	}
}

// LogSecurityEvent records an authentication or authorization event.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	entry := l.WithContext(ctx).WithField("security_event", event)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	entry.Warn("Security event")
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores traceID in ctx. An empty id leaves ctx unchanged.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace id stored in ctx.
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetUserID returns the authenticated user id stored in ctx.
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// GetRole returns the authenticated role stored in ctx.
func GetRole(ctx context.Context) string {
	return stringValue(ctx, RoleKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
