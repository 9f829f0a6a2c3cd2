package logger

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Environment selects encoder defaults:
// production gets JSON, everything else the console encoder.
func New(environment string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(strings.TrimSpace(environment), "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

// WithTrace returns log enriched with the active trace and span IDs when the
// context carries a sampled span.
func WithTrace(ctx context.Context, log *zap.Logger) *zap.Logger {
	if ctx == nil {
		return log
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// FromContext is WithTrace over the global logger.
func FromContext(ctx context.Context) *zap.Logger {
	return WithTrace(ctx, zap.L())
}

// Module provides the zap logger to the fx graph and flushes it on shutdown.
var Module = fx.Module("logger",
	fx.Provide(func(lc fx.Lifecycle) (*zap.Logger, error) {
		log, err := New("")
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				_ = log.Sync()
				return nil
			},
		})
		return log, nil
	}),
)
