// Package observability provides the ambient logging, metrics, and tracing
// stack shared by every component. Logger wraps go.uber.org/zap with the
// chainable With* methods and request-id-in-context propagation the
// teacher's internal/observability package documents.
package observability

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID returns a context carrying the given request id for later
// retrieval by Logger.WithContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func requestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// Logger is a thin, chainable wrapper over *zap.Logger.
type Logger struct {
	z *zap.Logger
}

// NewLogger builds a Logger for the given environment. "production" and
// "staging" get a JSON encoder at info level; anything else gets a
// human-readable development encoder at debug level.
func NewLogger(env string) (*Logger, error) {
	var cfg zap.Config
	switch env {
	case "production", "staging":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func (l *Logger) clone(z *zap.Logger) *Logger {
	return &Logger{z: z}
}

// WithContext attaches the request id carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id, ok := requestIDFromContext(ctx); ok {
		return l.clone(l.z.With(zap.String("request_id", id)))
	}
	return l
}

// WithComponent tags subsequent log lines with the owning component name
// (e.g. "monitor", "orchestrator", "registry").
func (l *Logger) WithComponent(name string) *Logger {
	return l.clone(l.z.With(zap.String("component", name)))
}

// WithFields attaches arbitrary key/value pairs, alternating key, value.
func (l *Logger) WithFields(kv ...interface{}) *Logger {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return l.clone(l.z.With(fields...))
}

// WithError attaches err under the conventional "error" key.
func (l *Logger) WithError(err error) *Logger {
	return l.clone(l.z.With(zap.Error(err)))
}

func (l *Logger) Debug(msg string) { l.z.Debug(msg) }
func (l *Logger) Info(msg string)  { l.z.Info(msg) }
func (l *Logger) Warn(msg string)  { l.z.Warn(msg) }
func (l *Logger) Error(msg string) { l.z.Error(msg) }

// Sync flushes any buffered log entries. Call on shutdown.
func (l *Logger) Sync() error {
	return l.z.Sync()
}
