package middleware

import (
	appconfig "github.com/Sokol111/ecommerce-outbox/pkg/core/config"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const group = `group:"http_mw"`

// NewMiddlewareModule provides the middleware chain in execution order:
//
//	 5 - Telemetry      - server span and request metrics
//	10 - Timeout        - bounds the request context
//	20 - RateLimit      - limits requests/second
//	30 - Bulkhead       - limits concurrent requests
//	40 - Logger         - request logger with trace ids
//	50 - Recovery       - catches panics
//	60 - CircuitBreaker - sheds load after repeated 5xx
func NewMiddlewareModule() fx.Option {
	return fx.Provide(
		fx.Annotate(func(app appconfig.AppConfig, tp trace.TracerProvider, mp metric.MeterProvider) Middleware {
			return NewTelemetryMiddleware(app.ServiceName, tp, mp, 5)
		}, fx.ResultTags(group)),
		fx.Annotate(func(cfg Config, log *zap.Logger) Middleware {
			return NewTimeoutMiddleware(cfg.Timeout, log, 10)
		}, fx.ResultTags(group)),
		fx.Annotate(func(cfg Config) Middleware {
			return NewRateLimitMiddleware(cfg.RateLimit, 20)
		}, fx.ResultTags(group)),
		fx.Annotate(func(cfg Config, log *zap.Logger) Middleware {
			return NewBulkheadMiddleware(cfg.Bulkhead, log, 30)
		}, fx.ResultTags(group)),
		fx.Annotate(func(log *zap.Logger) Middleware {
			return NewLoggerMiddleware(log, 40)
		}, fx.ResultTags(group)),
		fx.Annotate(func() Middleware {
			return NewRecoveryMiddleware(50)
		}, fx.ResultTags(group)),
		fx.Annotate(func(cfg Config, log *zap.Logger) Middleware {
			return NewCircuitBreakerMiddleware(cfg.CircuitBreaker, log, 60)
		}, fx.ResultTags(group)),
	)
}
