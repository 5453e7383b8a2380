// Package observability provides the panel's logging, metrics, tracing, and
// health endpoints.
package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/fedipanel/internal/config"
	"github.com/pitabwire/fedipanel/model"
)

type loggerKey struct{}

// NewLogger creates a JSON zap.Logger writing to stdout. Unknown levels fall
// back to info.
//
// Level conventions:
//   - error: backend unreachable, panics, 5xx responses
//   - warn:  rejected submissions, breaker open, hot reload failures
//   - info:  request summaries, logins and logouts, definition reloads
//   - debug: cache activity, retries, redacted payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zc.Build(zap.Fields(zap.String("service", "fedipanel")))
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context logger, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger enriched with the session and
// correlation fields of the request.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{zap.String("correlation_id", rctx.CorrelationID)}
	if s := rctx.Session; s != nil {
		fields = append(fields,
			zap.String("session_id", s.ID),
			zap.String("account_id", s.AccountID),
		)
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

var sensitiveKeys = []string{"password", "secret", "token", "authorization", "api_key"}

// Redact returns a copy of payload safe for debug logs: values under keys
// that look like credentials are masked at any depth, and values that are
// neither scalars nor nested payloads, such as uploaded files, are replaced
// by their kind.
func Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if isSensitive(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case []map[string]any:
		list := make([]any, len(t))
		for i, e := range t {
			list[i] = Redact(e)
		}
		return list
	case []any:
		list := make([]any, len(t))
		for i, e := range t {
			list[i] = redactValue(e)
		}
		return list
	case nil, string, bool, int, int64, float64, []string:
		return t
	default:
		return "[binary]"
	}
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
