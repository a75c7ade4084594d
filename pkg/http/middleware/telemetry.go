package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// NewTelemetryMiddleware starts a server span and records request metrics
// for everything except health probes.
func NewTelemetryMiddleware(serviceName string, tp trace.TracerProvider, mp metric.MeterProvider, priority int) Middleware {
	return Middleware{
		Priority: priority,
		Handler: func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, serviceName,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
				otelhttp.WithFilter(func(r *http.Request) bool { return !isHealthPath(r.URL.Path) }),
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}),
			)
		},
	}
}
