package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line and used as the metrics namespace.
const ServiceName = "wms_jobs"

type (
	correlationIDKey struct{}
	ownerIDKey       struct{}
)

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]any{"service": ServiceName}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withScopeValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return scopeValue(ctx, correlationIDKey{})
}

// WithOwnerID records the account a request acts for.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return withScopeValue(ctx, ownerIDKey{}, ownerID)
}

func OwnerIDFromContext(ctx context.Context) (string, bool) {
	return scopeValue(ctx, ownerIDKey{})
}

// Detach returns base carrying the correlation and owner ids of ctx. Background work started
// from a request uses it to outlive the request without losing its trace.
func Detach(base, ctx context.Context) context.Context {
	if base == nil {
		base = context.Background()
	}
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		base = WithCorrelationID(base, correlationID)
	}
	if ownerID, ok := OwnerIDFromContext(ctx); ok {
		base = WithOwnerID(base, ownerID)
	}
	return base
}

// WithContextLogger adds the correlationId and ownerId found in ctx to logger.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 2)
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String("correlationId", correlationID))
	}
	if ownerID, ok := OwnerIDFromContext(ctx); ok {
		fields = append(fields, zap.String("ownerId", ownerID))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

func withScopeValue(ctx context.Context, key any, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func scopeValue(ctx context.Context, key any) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
