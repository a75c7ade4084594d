package middleware

import (
	"net/http"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/observability/tracing"
	"github.com/felixge/httpsnoop"
	"go.uber.org/zap"
)

// loggerMiddleware stores a request logger carrying the trace ids in the
// request context and logs every completed request.
func loggerMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := log
			if traceID, spanID := tracing.GetTraceIDAndSpanID(r.Context()); traceID != "" {
				reqLog = log.With(zap.String("trace_id", traceID), zap.String("span_id", spanID))
			}
			r = r.WithContext(logger.With(r.Context(), reqLog))

			m := httpsnoop.CaptureMetrics(next, w, r)

			if isHealthPath(r.URL.Path) {
				return
			}
			reqLog.Debug("request completed", append(requestFields(r),
				zap.Int("status", m.Code),
				zap.Duration("latency", m.Duration),
				zap.Int64("bytes", m.Written),
				zap.String("user_agent", r.UserAgent()),
			)...)
		})
	}
}

func NewLoggerMiddleware(log *zap.Logger, priority int) Middleware {
	return Middleware{Priority: priority, Handler: loggerMiddleware(log)}
}
