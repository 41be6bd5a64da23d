// Package logging provides structured logging with actor/trace context.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through request scope.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	ActorKey   ContextKey = "actor"
	TaskIDKey  ContextKey = "task_id"
)

// Logger wraps logrus.Logger with a fixed component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the given component.
func New(component, level, format string) *Logger {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.ToLower(format) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewFromEnv builds a logger from LOG_LEVEL / LOG_FORMAT, defaulting to info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext attaches trace/actor/task fields found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(ActorKey); v != nil {
		entry = entry.WithField("actor", v)
	}
	if v := ctx.Value(TaskIDKey); v != nil {
		entry = entry.WithField("task_id", v)
	}
	return entry
}

// WithFields creates an entry with additional fields plus the component tag.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError creates an entry carrying the error string.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"component": l.component, "error": err.Error()})
}

// NewTraceID generates a fresh request trace id.
func NewTraceID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

func GetActor(ctx context.Context) string {
	if v, ok := ctx.Value(ActorKey).(string); ok {
		return v
	}
	return ""
}

func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TaskIDKey, id)
}

// LogRequest logs one completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, dur time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": dur.Milliseconds(),
	}).Info("http request")
}
