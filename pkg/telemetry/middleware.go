package telemetry

import (
	"context"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// Middleware returns capability middleware for tracing, metrics and debug
// logging, outermost first.
func (t *Telemetry) Middleware() []capability.Middleware {
	return []capability.Middleware{
		TracingMiddleware(t.Tracer),
		MetricsMiddleware(t.Metrics),
		LoggingMiddleware(t.Logger),
	}
}

// TracingMiddleware wraps every capability call in a span.
func TracingMiddleware(tracer *Tracer) capability.Middleware {
	return func(object, member string, next capability.Func) capability.Func {
		return func(ctx context.Context, args capability.Args) (value.Value, error) {
			ctx, span := tracer.StartCapabilitySpan(ctx, object, member)
			defer span.End()

			v, err := next(ctx, args)
			if err != nil {
				span.SetAttributes(AttrErrorKind.String(string(hosterr.KindOf(err))))
				RecordError(span, err)
				return v, err
			}
			RecordSuccess(span)
			return v, nil
		}
	}
}

// MetricsMiddleware counts and times capability calls, and counts failures
// by error kind.
func MetricsMiddleware(m *Metrics) capability.Middleware {
	return func(object, member string, next capability.Func) capability.Func {
		return func(ctx context.Context, args capability.Args) (value.Value, error) {
			timer := NewTimer()
			v, err := next(ctx, args)
			m.RecordCapabilityCall(object, member, timer.Duration())
			if err != nil {
				m.RecordCapabilityError(object, string(hosterr.KindOf(err)))
			}
			return v, err
		}
	}
}

// LoggingMiddleware logs each call at debug level and failures at warn.
func LoggingMiddleware(l *Logger) capability.Middleware {
	return func(object, member string, next capability.Func) capability.Func {
		op := object + "." + member
		return func(ctx context.Context, args capability.Args) (value.Value, error) {
			zl := l.Zerolog()
			zl.Debug().Str("op", op).Int("args", args.Len()).Msg("capability call")

			v, err := next(ctx, args)
			if err != nil {
				zl.Warn().Str("op", op).Str("kind", string(hosterr.KindOf(err))).Err(err).Msg("capability call failed")
			}
			return v, err
		}
	}
}
